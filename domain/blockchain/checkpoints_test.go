package blockchain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Menutra/Cache-Cash/crypto"
	"github.com/Menutra/Cache-Cash/netparams"
)

func writeTempCheckpoints(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoints.csv")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestCheckpointsEmbedded(t *testing.T) {
	c := NewCheckpoints()
	if err := c.AddEmbedded(&netparams.MainNetParams); err != nil {
		t.Fatalf("AddEmbedded: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("embedded checkpoint count %d, want 2", c.Len())
	}
	if !c.IsCheckpointed(16334) {
		t.Fatal("height 16334 not checkpointed")
	}
	if c.IsCheckpointed(16333) {
		t.Fatal("height 16333 checkpointed")
	}

	// A block whose hash differs from the checkpoint fails the check.
	if c.Check(16334, crypto.FastHash([]byte("imposter"))) {
		t.Fatal("mismatched hash passed a checkpointed height")
	}
	// Heights without a checkpoint admit anything.
	if !c.Check(7, crypto.FastHash([]byte("anything"))) {
		t.Fatal("uncheckpointed height rejected a hash")
	}
}

func TestCheckpointsCSV(t *testing.T) {
	path := writeTempCheckpoints(t, `
# comment line
15191,983ccab3bc1dbd67d2f7caef25571e91f2ab1f3f7fbfb9437033c2c01e1440a1

20000,74ac00598a5e89b5a865919758bbeef3513c6d8a75d4ea315c0cdd7350106809
`)
	c := NewCheckpoints()
	if err := c.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("loaded %d checkpoints, want 2", c.Len())
	}
	if !c.IsCheckpointed(20000) {
		t.Fatal("height 20000 not loaded")
	}
}

func TestCheckpointsCSVErrors(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{"missing column", "15191\n"},
		{"bad height", "abc,983ccab3bc1dbd67d2f7caef25571e91f2ab1f3f7fbfb9437033c2c01e1440a1\n"},
		{"bad hash", "15191,zzzz\n"},
		{"short hash", "15191,983ccab3\n"},
	}
	for _, test := range tests {
		path := writeTempCheckpoints(t, test.contents)
		c := NewCheckpoints()
		if err := c.LoadFromFile(path); err == nil {
			t.Errorf("%s: parse error not fatal", test.name)
		}
	}
}

func TestCheckpointsDuplicates(t *testing.T) {
	hash := crypto.FastHash([]byte("block"))
	c := NewCheckpoints()
	if err := c.Add(100, hash); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// The identical duplicate is tolerated.
	if err := c.Add(100, hash); err != nil {
		t.Fatalf("identical duplicate rejected: %v", err)
	}
	// A mismatched duplicate is a fatal configuration defect.
	if err := c.Add(100, crypto.FastHash([]byte("other"))); err == nil {
		t.Fatal("conflicting duplicate accepted")
	}
	if c.Len() != 1 {
		t.Fatalf("checkpoint count %d, want 1", c.Len())
	}
}
