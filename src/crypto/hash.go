package crypto

import (
	"crypto/sha256"
)

// SHA256 returns the SHA256 digest of data. Block hashes are the SHA256 of the
// canonical encoding of the block body.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}
