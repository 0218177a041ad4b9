package checkpoint

import (
	"fmt"
	"hash"

	"github.com/cespare/xxhash/v2"
	sha256 "github.com/minio/sha256-simd"
	"github.com/zeebo/blake3"
)

// HashAlgo selects the digest protecting a checkpoint stream.
type HashAlgo uint8

const (
	HashXXH64  HashAlgo = 1 // fast, 8-byte digest, the default
	HashBLAKE3 HashAlgo = 2
	HashSHA256 HashAlgo = 3
)

func (a HashAlgo) String() string {
	switch a {
	case HashXXH64:
		return "xxh64"
	case HashBLAKE3:
		return "blake3"
	case HashSHA256:
		return "sha256"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

func (a HashAlgo) newHasher() (hash.Hash, error) {
	switch a {
	case HashXXH64:
		return xxhash.New(), nil
	case HashBLAKE3:
		return blake3.New(), nil
	case HashSHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unknown hash algo %d", uint8(a))
	}
}
