package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
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
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the encrypted-seed JSON schema version.
	currentVersion = 1
	// seedLen is the required master seed length in bytes.
	seedLen = 32
)

// encryptedSeedJSON is the on-disk format for an encrypted master seed.
type encryptedSeedJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// SeedConfig carries the information LoadSeed needs to resolve the master
// delegation seed. Populate the fields from environment variables or the
// config file.
type SeedConfig struct {
	// RawSeed is the hex-encoded 32-byte seed (with or without 0x prefix).
	// If non-empty, LoadSeed returns it directly.
	RawSeed string

	// EncryptedSeedPath is the path to a JSON file produced by EncryptSeed.
	EncryptedSeedPath string

	// SeedPassword is the password used to decrypt EncryptedSeedPath.
	SeedPassword string
}

// EncryptSeed encrypts a hex-encoded master seed with a password using
// PBKDF2-HMAC-SHA256 key derivation and AES-256-GCM authenticated encryption.
// It returns the JSON blob suitable for writing to disk.
func EncryptSeed(seedHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	seed, err := decodeSeedHex(seedHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm mode: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, seed, nil)

	return json.Marshal(encryptedSeedJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
}

// LoadSeed resolves the master seed from cfg: a raw hex seed wins, otherwise
// the encrypted file is decrypted with the configured password.
func LoadSeed(cfg SeedConfig) ([]byte, error) {
	if strings.TrimSpace(cfg.RawSeed) != "" {
		return decodeSeedHex(cfg.RawSeed)
	}

	if cfg.EncryptedSeedPath == "" {
		return nil, errors.New("crypto: no seed configured")
	}

	data, err := os.ReadFile(cfg.EncryptedSeedPath)
	if err != nil {
		return nil, fmt.Errorf("crypto: read encrypted seed: %w", err)
	}

	var enc encryptedSeedJSON
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("crypto: parse encrypted seed: %w", err)
	}
	if enc.Version != currentVersion {
		return nil, fmt.Errorf("crypto: unsupported seed file version %d", enc.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(enc.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(enc.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(enc.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(cfg.SeedPassword), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm mode: %w", err)
	}

	seed, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.New("crypto: seed decryption failed (wrong password?)")
	}
	if len(seed) != seedLen {
		return nil, fmt.Errorf("crypto: decrypted seed has %d bytes, want %d", len(seed), seedLen)
	}

	return seed, nil
}

// decodeSeedHex normalises and validates a hex-encoded master seed.
func decodeSeedHex(seedHex string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(seedHex), "0x")
	seed, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid seed hex: %w", err)
	}
	if len(seed) != seedLen {
		return nil, fmt.Errorf("crypto: expected %d-byte seed, got %d bytes", seedLen, len(seed))
	}
	return seed, nil
}
