package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/netparams"
)

// maxNodeIDLength bounds the free-form public node contact string.
const maxNodeIDLength = 128

// Config defines the configuration options of the daemon.
type Config struct {
	DataDir         string `long:"data-dir" description:"Directory to store block chain and peer data"`
	Testnet         bool   `long:"testnet" description:"Use the test network: checkpoints and hardcoded seeds are ignored, network id is changed"`
	LoadCheckpoints string `long:"load-checkpoints" description:"'default' uses the embedded list, a path loads a height,hash CSV, empty disables" default:"default"`
	NodeID          string `long:"node-id" description:"Public node contact string, recommended when running a public node"`
	FeeAddress      string `long:"fee-address" description:"Fee address for light wallets that use this daemon"`
	FeeAmount       uint64 `long:"fee-amount" description:"Fee amount for light wallets that use this daemon"`
	ViewKey         string `long:"view-key" description:"Secret view key for remote node fee confirmation"`
	Listen          string `long:"listen" description:"P2P bind address (default: 0.0.0.0:<network port>)"`
	MaxOutbound     int    `long:"max-outbound" description:"Target number of outbound connections" default:"8"`
	LogLevel        string `long:"log-level" description:"Logging level {trace, debug, info, warn, error, critical}" default:"info"`
	NoConsole       bool   `long:"no-console" description:"Accepted for compatibility; the interactive console is not part of this daemon"`
	PrintGenesisTx  bool   `long:"print-genesis-tx" description:"Prints the genesis block coinbase hex and exits"`
	ShowVersion     bool   `short:"V" long:"version" description:"Shows version details"`

	// NetParams is resolved from the Testnet flag after parsing.
	NetParams *netparams.Params `no-flag:"true"`
}

// DefaultDataDir returns the platform-conventional data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cache-cash"
	}
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "Cache-Cash")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Cache-Cash")
	default:
		return filepath.Join(home, ".cache-cash")
	}
}

// Parse parses the command line and resolves the derived fields. Every
// configuration defect found here is fatal to startup.
func Parse() (*Config, error) {
	cfg := &Config{
		DataDir: DefaultDataDir(),
	}
	parser := flags.NewParser(cfg, flags.HelpFlag)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if cfg.Testnet {
		cfg.NetParams = &netparams.TestNetParams
	} else {
		cfg.NetParams = &netparams.MainNetParams
	}
	if cfg.Listen == "" {
		cfg.Listen = fmt.Sprintf("0.0.0.0:%d", cfg.NetParams.DefaultPort)
	}

	if len(cfg.NodeID) > maxNodeIDLength {
		return nil, errors.Errorf("node-id of %d characters, limit %d",
			len(cfg.NodeID), maxNodeIDLength)
	}
	if cfg.MaxOutbound < 1 {
		return nil, errors.New("max-outbound must be at least 1")
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, errors.Wrapf(err, "can't create data directory %s", cfg.DataDir)
	}

	// --testnet ignores checkpoints regardless of --load-checkpoints.
	if cfg.Testnet {
		cfg.LoadCheckpoints = ""
	}
	return cfg, nil
}

// LogFile returns the daemon log path under the data directory.
func (cfg *Config) LogFile() string {
	return filepath.Join(cfg.DataDir, "cached.log")
}

// DBDir returns the database path under the data directory.
func (cfg *Config) DBDir() string {
	return filepath.Join(cfg.DataDir, "db")
}
