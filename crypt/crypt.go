// Package crypt encrypts data channel payloads.
//
// Payloads are padded PKCS#7 style, encrypted with AES-256 in CBC mode using the
// per-session key and IV, and base64 encoded for transport.
package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

const (
	// KeyLength is the length of a generated key in characters (AES-256).
	KeyLength = 32
	// IVLength is the length of a generated IV in characters.
	IVLength = aes.BlockSize
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// ErrCorrupt is returned when a ciphertext cannot be decoded or unpadded.
var ErrCorrupt = errors.New("corrupt ciphertext")

// Encrypt pads, encrypts and base64 encodes plaintext.
func Encrypt(plaintext, key, iv []byte) ([]byte, error) {
	block, err := newBlock(key, iv)
	if err != nil {
		return nil, err
	}
	padded := pad(plaintext, aes.BlockSize)
	sealed := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(sealed, padded)

	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

// Decrypt reverses Encrypt. The last plaintext byte holds the pad length.
func Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := newBlock(key, iv)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, base64.StdEncoding.DecodedLen(len(ciphertext)))
	n, err := base64.StdEncoding.Decode(sealed, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	sealed = sealed[:n]
	if len(sealed) == 0 || len(sealed)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of the block size", ErrCorrupt, len(sealed))
	}

	plain := make([]byte, len(sealed))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, sealed)
	return unpad(plain, aes.BlockSize)
}

func newBlock(key, iv []byte) (cipher.Block, error) {
	if len(key) != KeyLength {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeyLength, len(key))
	}
	if len(iv) != IVLength {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", IVLength, len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("error creating cipher: %w", err)
	}
	return block, nil
}

// pad always adds between 1 and size bytes, each holding the pad length.
func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding %d", ErrCorrupt, n)
	}
	return b[:len(b)-n], nil
}

// KeyMaterial is the per-session key and IV.
type KeyMaterial struct {
	Key []byte
	IV  []byte
}

// NewKeyMaterial draws a fresh alphanumeric key and IV from crypto/rand.
func NewKeyMaterial() (*KeyMaterial, error) {
	key, err := randomString(KeyLength)
	if err != nil {
		return nil, err
	}
	iv, err := randomString(IVLength)
	if err != nil {
		return nil, err
	}
	return &KeyMaterial{Key: key, IV: iv}, nil
}

// Seal encrypts p. A nil KeyMaterial leaves the payload untouched.
func (k *KeyMaterial) Seal(p []byte) ([]byte, error) {
	if k == nil {
		return p, nil
	}
	return Encrypt(p, k.Key, k.IV)
}

// Open decrypts p. A nil KeyMaterial leaves the payload untouched.
func (k *KeyMaterial) Open(p []byte) ([]byte, error) {
	if k == nil {
		return p, nil
	}
	return Decrypt(p, k.Key, k.IV)
}

func randomString(n int) ([]byte, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return nil, fmt.Errorf("error reading random source: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return out, nil
}
