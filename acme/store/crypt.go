// Package store persists ACME accounts on disk, optionally encrypting the
// account key material with a passphrase.
package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// ErrDecryptionFailed indicates the stored key blob could not be
// decrypted, almost always because the passphrase is wrong.
var ErrDecryptionFailed = errors.New("decryption failed, check passphrase")

const (
	saltLen = 16
	ivLen   = aes.BlockSize
	// PBKDF2 parameters. Changing these breaks existing stored blobs.
	kdfIterations = 10000
	kdfKeyLen     = 48
)

// deriveKey stretches the passphrase into an AES-256 key and a CBC IV
// supplement. The first 32 bytes key the cipher; the remaining 16 are
// unused when an explicit IV is carried, kept for blob compatibility.
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, kdfIterations, kdfKeyLen, sha256.New)
}

// encrypt seals plaintext under the passphrase. The output layout is
// salt || iv || AES-256-CBC ciphertext with PKCS#7 padding.
func encrypt(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, saltLen+ivLen+len(ciphertext))
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// decrypt opens a blob produced by encrypt. A wrong passphrase surfaces
// as ErrDecryptionFailed through the padding check.
func decrypt(blob []byte, passphrase string) ([]byte, error) {
	if len(blob) < saltLen+ivLen+aes.BlockSize {
		return nil, fmt.Errorf("%w: blob too short", ErrDecryptionFailed)
	}
	salt := blob[:saltLen]
	iv := blob[saltLen : saltLen+ivLen]
	ciphertext := blob[saltLen+ivLen:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block aligned", ErrDecryptionFailed)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, err
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("invalid padding length")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid padding byte")
		}
	}
	return data[:len(data)-padLen], nil
}
