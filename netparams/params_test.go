package netparams

import (
	"testing"
)

// TestGenesisDeterminism checks that the genesis block hashes identically on
// every construction, which every node on the network depends on.
func TestGenesisDeterminism(t *testing.T) {
	first := MainNetParams.GenesisHash()
	second := MainNetParams.GenesisHash()
	if first != second {
		t.Fatalf("genesis hash unstable: %s != %s", first, second)
	}
	if first == (TestNetParams.GenesisHash()) {
		t.Fatal("mainnet and testnet share a genesis hash")
	}
}

func TestTestnetDerivation(t *testing.T) {
	if TestNetParams.NetworkID == MainNetParams.NetworkID {
		t.Fatal("testnet shares the mainnet network id")
	}
	if TestNetParams.NetworkID[0] != MainNetParams.NetworkID[0]^0xff {
		t.Fatal("testnet network id is not the flipped-first-byte derivation")
	}
	if len(TestNetParams.SeedNodes) != 0 {
		t.Fatal("testnet carries seed nodes")
	}
	if len(TestNetParams.Checkpoints) != 0 {
		t.Fatal("testnet carries checkpoints")
	}
	if TestNetParams.DefaultPort == MainNetParams.DefaultPort {
		t.Fatal("testnet shares the mainnet port")
	}
}

func TestBlockRewardCurve(t *testing.T) {
	params := &MainNetParams

	previous := params.BlockReward(0)
	generated := previous
	for i := 0; i < 1000; i++ {
		reward := params.BlockReward(generated)
		if reward == 0 {
			t.Fatalf("reward reached zero after %d blocks with supply remaining", i)
		}
		if reward > previous {
			t.Fatalf("reward increased from %d to %d", previous, reward)
		}
		previous = reward
		generated += reward
	}

	// The emission never overshoots the supply.
	if params.BlockReward(params.MoneySupply) != 0 {
		t.Fatal("reward paid past the supply cap")
	}
}

func TestEmbeddedCheckpointsSorted(t *testing.T) {
	var lastHeight uint64
	for i, cp := range MainNetParams.Checkpoints {
		if i > 0 && cp.Height <= lastHeight {
			t.Fatalf("checkpoint %d at height %d is not above its predecessor", i, cp.Height)
		}
		lastHeight = cp.Height
	}
}
