package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJumpHashRange(t *testing.T) {
	for hash := uint64(0); hash < 10000; hash += 13 {
		bucket := JumpHash(hash, 7)
		assert.GreaterOrEqual(t, bucket, 0)
		assert.Less(t, bucket, 7)
	}
}

func TestJumpHashDeterministic(t *testing.T) {
	assert.Equal(t, JumpHash(0xCAFEBABE, 10), JumpHash(0xCAFEBABE, 10))
}

func TestJumpHashDegenerate(t *testing.T) {
	assert.Equal(t, 0, JumpHash(123, 0))
	assert.Equal(t, 0, JumpHash(123, -5))
	assert.Equal(t, 0, JumpHash(123, 1))
}

func TestJumpHashSpread(t *testing.T) {
	seen := make(map[int]int)
	for hash := uint64(0); hash < 100000; hash += 7 {
		seen[JumpHash(hash, 5)]++
	}
	assert.Len(t, seen, 5, "all buckets should be hit")
}
