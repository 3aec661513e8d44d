// Package crypto implements authenticated encryption of credential strings
// for storage. Blobs are base64(nonce || ciphertext || tag) with a 96-bit
// random nonce and a 128-bit GCM tag; there is no padding.
package crypto

import (
	"errors"
	"fmt"

	"github.com/jmcleod/ironsession/internal/util"
	"github.com/jmcleod/ironsession/keystore"
)

const (
	NonceSize = util.GCMNonceSize
	TagSize   = util.GCMTagSize
)

// ErrCrypto reports that a blob could not be produced or verified. A
// decryption failure means tampering, corruption or the wrong key and is
// never worth retrying.
var ErrCrypto = errors.New("crypto error")

// Cipher encrypts and decrypts credential strings with a keystore.Key.
// The zero value is ready to use.
type Cipher struct{}

// NewCipher returns a Cipher.
func NewCipher() *Cipher {
	return &Cipher{}
}

// Encrypt seals plaintext under key with a fresh nonce and returns the
// base64-encoded blob.
func (c *Cipher) Encrypt(plaintext string, key keystore.Key) (string, error) {
	if key == nil {
		return "", fmt.Errorf("%w: no key", ErrCrypto)
	}
	sealed, err := key.Encrypt([]byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("%w: encrypting with key %q: %v", ErrCrypto, key.Alias(), err)
	}
	return util.Base64Encode(sealed), nil
}

// Decrypt verifies and opens a blob produced by Encrypt.
func (c *Cipher) Decrypt(blob string, key keystore.Key) (string, error) {
	if key == nil {
		return "", fmt.Errorf("%w: no key", ErrCrypto)
	}
	sealed, err := util.Base64Decode(blob)
	if err != nil {
		return "", fmt.Errorf("%w: decoding blob: %v", ErrCrypto, err)
	}
	if len(sealed) < NonceSize+TagSize {
		return "", fmt.Errorf("%w: blob too short (%d bytes)", ErrCrypto, len(sealed))
	}
	plain, err := key.Decrypt(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: decrypting with key %q: %v", ErrCrypto, key.Alias(), err)
	}
	defer util.WipeBytes(plain)
	return string(plain), nil
}
