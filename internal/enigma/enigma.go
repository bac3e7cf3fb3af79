package enigma

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	KeySize   = chacha20poly1305.KeySize
	nonceSize = chacha20poly1305.NonceSizeX
)

var (
	ErrShortCiphertext = errors.New("ciphertext too short")

	hasher = sha512.New
)

// Enigma seals small records at rest. Every ciphertext carries its own
// random nonce, so one Enigma can encrypt any number of records.
type Enigma struct {
	aead cipher.AEAD
}

// NewEnigma derives an XChaCha20-Poly1305 key from secret, salt and info.
func NewEnigma(secret, salt, info []byte) (*Enigma, error) {
	key, err := Derive(secret, salt, info, KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("xchacha20poly1305: %w", err)
	}

	return &Enigma{aead: aead}, nil
}

// Encrypt returns nonce || ciphertext.
func (e *Enigma) Encrypt(plaintext []byte) []byte {
	nonce := make([]byte, nonceSize, nonceSize+len(plaintext)+e.aead.Overhead())
	// crypto/rand.Read never returns an error.
	_, _ = rand.Read(nonce)
	return e.aead.Seal(nonce, nonce, plaintext, nil)
}

func (e *Enigma) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize+e.aead.Overhead() {
		return nil, ErrShortCiphertext
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return e.aead.Open(nil, nonce, sealed, nil)
}

func Derive(key, salt, info []byte, size int) ([]byte, error) {
	r := hkdf.New(hasher, key, salt, info)
	d := make([]byte, size)
	if _, err := io.ReadFull(r, d); err != nil {
		return nil, err
	}
	return d, nil
}
