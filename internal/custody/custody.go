// Package custody manages per-user custodial signing credentials. Private key
// material exists in plaintext only transiently, inside the operation that
// needs it; at rest it is AES-256-CBC encrypted with a process-wide key.
package custody

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrDecryptionFailed indicates a malformed blob or a changed encryption key.
// It is fatal and non-retryable: it means data corruption or misconfiguration,
// and is surfaced as an internal error.
var ErrDecryptionFailed = errors.New("credential decryption failed")

// Custody encrypts and decrypts custodial wallet credentials.
type Custody struct {
	key []byte
}

// New builds a Custody from a hex-encoded 32-byte symmetric key.
func New(hexKey string) (*Custody, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return &Custody{key: key}, nil
}

// NewCredential generates a fresh keypair and returns the wallet address plus
// the encrypted private key blob. The plaintext key is not retained.
func (c *Custody) NewCredential() (address, encryptedBlob string, err error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return "", "", fmt.Errorf("generate keypair: %w", err)
	}
	address = crypto.PubkeyToAddress(priv.PublicKey).Hex()

	privHex := "0x" + hex.EncodeToString(crypto.FromECDSA(priv))
	encryptedBlob, err = c.encrypt(privHex)
	if err != nil {
		return "", "", err
	}
	return address, encryptedBlob, nil
}

// Decrypt recovers the plaintext signing credential from a stored blob. The
// result must be discarded as soon as the calling operation completes.
func (c *Custody) Decrypt(encryptedBlob string) (string, error) {
	parts := strings.SplitN(encryptedBlob, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: malformed blob", ErrDecryptionFailed)
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return "", fmt.Errorf("%w: bad iv", ErrDecryptionFailed)
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: bad ciphertext", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(unpadded), nil
}

// encrypt produces a blob in ivHex:cipherHex form.
func (c *Custody) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-padding], nil
}
