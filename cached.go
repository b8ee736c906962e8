package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/domain/blockchain"
	"github.com/Menutra/Cache-Cash/domain/core"
	"github.com/Menutra/Cache-Cash/domain/mempool"
	"github.com/Menutra/Cache-Cash/infrastructure/config"
	"github.com/Menutra/Cache-Cash/infrastructure/db"
	"github.com/Menutra/Cache-Cash/infrastructure/dispatcher"
	"github.com/Menutra/Cache-Cash/infrastructure/logger"
	"github.com/Menutra/Cache-Cash/network/p2pserver"
	"github.com/Menutra/Cache-Cash/network/peerlist"
	"github.com/Menutra/Cache-Cash/network/protocol"
	"github.com/Menutra/Cache-Cash/util"
	"github.com/Menutra/Cache-Cash/version"
)

func main() {
	if err := cachedMain(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func cachedMain() error {
	cfg, err := config.Parse()
	if err != nil {
		return err
	}

	if cfg.ShowVersion {
		fmt.Printf("Cache v%s\n", version.Version())
		return nil
	}
	if cfg.PrintGenesisTx {
		return printGenesisTx(cfg)
	}

	if err := logger.InitLogRotator(cfg.LogFile()); err != nil {
		return err
	}
	if err := logger.ParseAndSetLogLevels(cfg.LogLevel); err != nil {
		return err
	}

	cachLog.Infof("Cache v%s starting on %s", version.Version(), cfg.NetParams.Name)
	if cfg.Testnet {
		cachLog.Warnf("Starting in testnet mode!")
	}
	if cfg.NoConsole {
		cachLog.Warnf("--no-console is accepted for compatibility only; " +
			"this daemon has no interactive console")
	}

	checkpoints, err := loadCheckpoints(cfg)
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.DBDir())
	if err != nil {
		return err
	}
	defer database.Close()

	disp := dispatcher.New()

	cachLog.Infof("Initializing core...")
	store, err := blockchain.New(cfg.NetParams, checkpoints, database)
	if err != nil {
		return err
	}
	pool := mempool.New(cfg.NetParams, store)
	c := core.New(cfg.NetParams, store, pool, disp)
	if err := applyFeeConfig(cfg, c); err != nil {
		return err
	}
	cachLog.Infof("Core has been initialized")

	cachLog.Infof("Initializing P2P server...")
	lists, err := peerlist.New(database)
	if err != nil {
		return err
	}
	server := p2pserver.New(cfg.NetParams, p2pserver.Config{
		Listen:         cfg.Listen,
		TargetOutbound: cfg.MaxOutbound,
	}, disp, lists, store)
	manager, err := protocol.NewManager(cfg.NetParams, c, server)
	if err != nil {
		return err
	}
	server.SetProtocol(manager)
	c.SetPeerCounter(server)
	if err := server.Start(); err != nil {
		return err
	}
	cachLog.Infof("P2P server has been initialized")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	spawn(func() {
		sig := <-interrupt
		cachLog.Infof("Received signal %s, shutting down", sig)
		disp.Stop()
	})

	cachLog.Infof("Starting P2P net loop...")
	server.Run()
	cachLog.Infof("P2P net loop stopped")

	if err := server.Deinit(); err != nil {
		cachLog.Errorf("Couldn't persist peer lists: %v", err)
	}

	cachLog.Infof("The node has successfully shutdown.")
	return nil
}

// loadCheckpoints merges the embedded list and the optional CSV file per the
// --load-checkpoints flag. Any defect is fatal.
func loadCheckpoints(cfg *config.Config) (*blockchain.Checkpoints, error) {
	checkpoints := blockchain.NewCheckpoints()
	if cfg.LoadCheckpoints == "" {
		return checkpoints, nil
	}
	if cfg.LoadCheckpoints == "default" {
		if err := checkpoints.AddEmbedded(cfg.NetParams); err != nil {
			return nil, err
		}
		if checkpoints.Len() > 0 {
			cachLog.Infof("Loaded %d default checkpoints", checkpoints.Len())
		}
		return checkpoints, nil
	}
	if err := checkpoints.AddEmbedded(cfg.NetParams); err != nil {
		return nil, err
	}
	if err := checkpoints.LoadFromFile(cfg.LoadCheckpoints); err != nil {
		return nil, errors.Wrap(err, "failed to load checkpoints")
	}
	cachLog.Infof("Loaded %d checkpoints", checkpoints.Len())
	return checkpoints, nil
}

// applyFeeConfig validates and installs the remote-node fee parameters.
func applyFeeConfig(cfg *config.Config, c *core.Core) error {
	feeConfig := core.FeeConfig{
		Amount:  cfg.FeeAmount,
		ViewKey: cfg.ViewKey,
		NodeID:  cfg.NodeID,
	}
	if cfg.FeeAddress != "" {
		address, err := util.DecodeAddress(cfg.FeeAddress, cfg.NetParams.AddressPrefix)
		if err != nil {
			return errors.Wrapf(err, "bad fee address %q", cfg.FeeAddress)
		}
		feeConfig.Address = address
		cachLog.Infof("Remote node fee address set: %s", cfg.FeeAddress)
	}
	if cfg.ViewKey != "" {
		cachLog.Infof("Secret view key set")
	}
	c.SetFeeConfig(feeConfig)
	return nil
}

// printGenesisTx prints the genesis coinbase hex for embedding in a coin
// configuration.
func printGenesisTx(cfg *config.Config) error {
	genesis := cfg.NetParams.GenesisBlock()
	blob, err := genesis.CoinbaseTx.Bytes()
	if err != nil {
		return err
	}
	fmt.Println("Insert this line into your coin configuration file as is:")
	fmt.Printf("const GENESIS_COINBASE_TX_HEX = %q\n", hex.EncodeToString(blob))
	return nil
}
