package util

import (
	"crypto/rand"
	"encoding/hex"
)

const idBytes = 16

// NewID returns a random 128-bit identifier in hex, optionally prefixed
// with an entity tag ("lead", "user", ...) joined by an underscore.
func NewID(prefix string) string {
	buf := make([]byte, idBytes)
	_, _ = rand.Read(buf)
	id := hex.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
