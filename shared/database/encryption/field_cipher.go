package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/agrawalpuran/uds-refresh-sub000/shared/common"
)

// FieldCipher encrypts individual document fields as "ivHex:cipherHex"
// using AES-256-CBC with PKCS#7 padding. This is the format the
// application writes for personal fields such as employee names.
type FieldCipher struct {
	block cipher.Block
}

// NewFieldCipher creates a cipher from a key given either as 64 hex
// characters or as 32 raw bytes
func NewFieldCipher(key string) (*FieldCipher, error) {
	raw, err := parseKey(key)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, common.NewAppErrorWithCause(common.ErrCodeEncryptionFailed, "failed to create cipher", err)
	}

	return &FieldCipher{block: block}, nil
}

func parseKey(key string) ([]byte, error) {
	if len(key) == 64 {
		if raw, err := hex.DecodeString(key); err == nil {
			return raw, nil
		}
	}
	if len(key) == 32 {
		return []byte(key), nil
	}
	return nil, common.NewAppErrorWithDetails(common.ErrCodeEncryptionFailed,
		"invalid encryption key", "expected 64 hex characters or 32 bytes")
}

// Encrypt returns the "ivHex:cipherHex" token for plaintext
func (c *FieldCipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Values that are not well-formed tokens, or
// that fail to decrypt, are returned unchanged: stored data mixes
// plaintext and ciphertext.
func (c *FieldCipher) Decrypt(token string) string {
	if c == nil {
		return token
	}

	ivHex, dataHex, ok := strings.Cut(token, ":")
	if !ok {
		return token
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return token
	}

	data, err := hex.DecodeString(dataHex)
	if err != nil || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return token
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(out, data)

	plain, ok := pkcs7Unpad(out, aes.BlockSize)
	if !ok {
		return token
	}
	return string(plain)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
