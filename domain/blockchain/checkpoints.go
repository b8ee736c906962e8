package blockchain

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/netparams"
	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// Checkpoints is a frozen height → hash table consulted during block
// acceptance. It is built once at startup from the embedded list and an
// optional CSV file; after that it is only read.
type Checkpoints struct {
	points map[uint64]cryptohash.Hash
}

// NewCheckpoints returns an empty checkpoint table.
func NewCheckpoints() *Checkpoints {
	return &Checkpoints{points: make(map[uint64]cryptohash.Hash)}
}

// Add inserts a checkpoint. A duplicate height with the identical hash is
// tolerated; a duplicate height with a different hash is a configuration
// defect and fails.
func (c *Checkpoints) Add(height uint64, hash cryptohash.Hash) error {
	if existing, ok := c.points[height]; ok {
		if existing != hash {
			return errors.Errorf("conflicting checkpoints at height %d: %s vs %s",
				height, existing, hash)
		}
		return nil
	}
	c.points[height] = hash
	return nil
}

// AddEmbedded merges the embedded checkpoint list of the network profile.
func (c *Checkpoints) AddEmbedded(params *netparams.Params) error {
	for _, cp := range params.Checkpoints {
		if err := c.Add(cp.Height, cp.Hash); err != nil {
			return err
		}
	}
	return nil
}

// LoadFromFile merges checkpoints from a CSV file of `height,hex_hash`
// lines. Blank lines and lines starting with '#' are ignored. Any parse
// error is fatal to startup, so it is returned rather than skipped.
func (c *Checkpoints) LoadFromFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "couldn't open checkpoints file %s", path)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) != 2 {
			return errors.Errorf("%s:%d: expected height,hash", path, lineNumber)
		}
		height, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil {
			return errors.Wrapf(err, "%s:%d: bad height", path, lineNumber)
		}
		hash, err := cryptohash.NewHashFromStr(strings.TrimSpace(fields[1]))
		if err != nil {
			return errors.Wrapf(err, "%s:%d: bad hash", path, lineNumber)
		}
		if len(strings.TrimSpace(fields[1])) != cryptohash.MaxHashStringSize {
			return errors.Errorf("%s:%d: hash is not %d hex characters",
				path, lineNumber, cryptohash.MaxHashStringSize)
		}
		if err := c.Add(height, *hash); err != nil {
			return errors.Wrapf(err, "%s:%d", path, lineNumber)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "couldn't read checkpoints file %s", path)
	}
	return nil
}

// Check returns whether a block hash is admissible at the given height:
// true when the height is not checkpointed or the hash matches the
// checkpoint.
func (c *Checkpoints) Check(height uint64, hash cryptohash.Hash) bool {
	expected, ok := c.points[height]
	if !ok {
		return true
	}
	return expected == hash
}

// IsCheckpointed returns whether the given height has a checkpoint.
func (c *Checkpoints) IsCheckpointed(height uint64) bool {
	_, ok := c.points[height]
	return ok
}

// Len returns the number of checkpoints in the table.
func (c *Checkpoints) Len() int {
	return len(c.points)
}
