// Package keys derives cache keys from resource locators.
package keys

import (
	"crypto/md5"
	"encoding/hex"
	"hash"

	"github.com/pictureloader/pictureloader/pkg/errors"
)

// KeyLength is the length of every derived key in characters.
const KeyLength = md5.Size * 2

// HashFunc constructs a fresh digest.
type HashFunc func() hash.Hash

// Deriver maps locators to fixed-length lowercase hex keys.
type Deriver struct {
	newHash HashFunc
	size    int
}

// NewDeriver returns a deriver backed by newHash. A nil constructor, or one
// that yields no digest, reports the hash as unavailable.
func NewDeriver(newHash HashFunc) (*Deriver, error) {
	if newHash == nil {
		return nil, unavailable("no digest constructor")
	}
	h := newHash()
	if h == nil {
		return nil, unavailable("digest constructor returned nil")
	}
	return &Deriver{newHash: newHash, size: h.Size()}, nil
}

// NewMD5 returns the standard MD5 deriver.
func NewMD5() *Deriver {
	return &Deriver{newHash: md5.New, size: md5.Size}
}

// Derive hashes the UTF-8 bytes of locator and renders the digest as
// lowercase hex with two characters per byte.
func (d *Deriver) Derive(locator string) string {
	h := d.newHash()
	h.Write([]byte(locator))
	return hex.EncodeToString(h.Sum(nil))
}

// Len returns the key length this deriver produces.
func (d *Deriver) Len() int {
	return d.size * 2
}

func unavailable(msg string) error {
	return errors.NewError(errors.ErrCodeHashUnavailable, msg).
		WithComponent("keys").
		WithOperation("new_deriver").
		WithDetail("algorithm", "md5")
}
