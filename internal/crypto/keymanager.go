// Package crypto seals broker credentials at rest and signs outbound
// webhook payloads.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	currentVersion   = 1
)

// sealedSecretJSON is the on-disk format for a sealed secret.
type sealedSecretJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// SecretConfig carries the information LoadSecret needs to resolve a
// credential.
type SecretConfig struct {
	// Raw is the plaintext secret. If non-empty, LoadSecret returns it.
	Raw string

	// Path is a JSON file produced by SealSecret.
	Path string

	// Password unlocks the file at Path.
	Password string
}

// SealSecret encrypts secret with a password using PBKDF2-HMAC-SHA256 key
// derivation and AES-256-GCM. It returns the JSON blob to write to disk.
func SealSecret(secret, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("crypto: secret must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := sealedSecretJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, []byte(secret), nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// OpenSecret decrypts a blob produced by SealSecret.
func OpenSecret(sealed []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var stored sealedSecretJSON
	if err := json.Unmarshal(sealed, &stored); err != nil {
		return "", fmt.Errorf("crypto: parsing sealed secret JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return "", fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce must be %d bytes, got %d", gcm.NonceSize(), len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return string(plaintext), nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// LoadSecret resolves a credential from cfg.
//
// Resolution order:
//  1. If Raw is set, return it.
//  2. If Path is set, read the file and open it with Password.
//  3. Otherwise, return an error.
func LoadSecret(cfg SecretConfig) (string, error) {
	if cfg.Raw != "" {
		return cfg.Raw, nil
	}
	if cfg.Path != "" {
		data, err := os.ReadFile(cfg.Path)
		if err != nil {
			return "", fmt.Errorf("crypto: reading sealed secret file: %w", err)
		}
		return OpenSecret(data, cfg.Password)
	}
	return "", errors.New("crypto: no secret source configured (set Raw or Path)")
}
