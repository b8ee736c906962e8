package netparams

import "github.com/Menutra/Cache-Cash/util/cryptohash"

func mustHash(s string) cryptohash.Hash {
	hash, err := cryptohash.NewHashFromStr(s)
	if err != nil {
		panic(err)
	}
	return *hash
}

// embeddedCheckpoints is the hard-coded mainnet checkpoint table. Entries
// must be sorted by height and hold one hash per height.
var embeddedCheckpoints = []Checkpoint{
	{15191, mustHash("983ccab3bc1dbd67d2f7caef25571e91f2ab1f3f7fbfb9437033c2c01e1440a1")},
	{16334, mustHash("74ac00598a5e89b5a865919758bbeef3513c6d8a75d4ea315c0cdd7350106809")},
}
