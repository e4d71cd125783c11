package util

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewID returns a server-assigned row id, optionally prefixed by kind.
func NewID(prefix string) string {
	id := strings.ToLower(ulid.Make().String())
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

const tempIDLength = 12

// NewTempID returns a client-generated temporary identity for an entity
// that has not been confirmed by the server yet. Random base36, so it
// cannot be mistaken for a ULID-shaped server id.
func NewTempID() string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	var b strings.Builder
	for i := 0; i < tempIDLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String()
}
