package bingo

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
)

// Entropy is the randomness consumed by board generation and draws.
// *rand.Rand from math/rand/v2 satisfies it.
type Entropy interface {
	IntN(n int) int
}

type cryptoSource struct{}

func (cryptoSource) Uint64() uint64 {
	var b [8]byte
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = crand.Read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

// NewCryptoEntropy returns an Entropy backed by crypto/rand.
func NewCryptoEntropy() Entropy {
	return rand.New(cryptoSource{})
}

// NewSeededEntropy returns a reproducible ChaCha8 stream. Publishing the
// seed after a game ends lets anyone replay its boards and draws.
func NewSeededEntropy(seed [32]byte) Entropy {
	return rand.New(rand.NewChaCha8(seed))
}
