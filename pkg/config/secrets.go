package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Encrypted API keys are stored inline in config.json as
// "enc:" + base64([salt][nonce][ciphertext+tag]). The key is derived from a
// passphrase with scrypt; AES-256-GCM authenticates the blob so a wrong
// passphrase fails loudly instead of producing garbage.
const (
	encryptedKeyPrefix = "enc:"
	saltSize           = 16
	nonceSize          = 12
	scryptN            = 32768 // 2^15
	scryptR            = 8
	scryptP            = 1
	keySize            = 32 // AES-256
)

// IsEncryptedKey reports whether a stored API key is an encrypted blob.
func IsEncryptedKey(value string) bool {
	return strings.HasPrefix(value, encryptedKeyPrefix)
}

// EncryptAPIKey encrypts an API key under a passphrase for storage at rest.
func EncryptAPIKey(apiKey, passphrase string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return "", err
	}
	defer wipe(key)

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(apiKey), nil)

	blob := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)

	return encryptedKeyPrefix + base64.StdEncoding.EncodeToString(blob), nil
}

// DecryptAPIKey reverses EncryptAPIKey. A wrong passphrase or tampered blob
// fails authentication.
func DecryptAPIKey(stored, passphrase string) (string, error) {
	if !IsEncryptedKey(stored) {
		return "", fmt.Errorf("value is not an encrypted API key")
	}

	blob, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, encryptedKeyPrefix))
	if err != nil {
		return "", fmt.Errorf("malformed encrypted API key: %w", err)
	}

	// 16 is the GCM tag size.
	if len(blob) < saltSize+nonceSize+16 {
		return "", fmt.Errorf("encrypted API key is truncated")
	}

	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]
	ciphertext := blob[saltSize+nonceSize:]

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return "", err
	}
	defer wipe(key)

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed (wrong passphrase?): %w", err)
	}
	return string(plaintext), nil
}

func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
