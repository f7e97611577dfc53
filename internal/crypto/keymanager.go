// Package crypto holds the service wallet: encrypted key storage and
// transaction signing.
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
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 1
)

// ErrNoKeySource is returned when neither a raw key nor a key file is set.
var ErrNoKeySource = errors.New("crypto: no private key source configured")

// keyFile is the on-disk format for an encrypted private key.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address,omitempty"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where the wallet key comes from. RawPrivateKey wins over
// EncryptedKeyPath when both are set.
type KeySource struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

// Configured reports whether any key source is present.
func (s KeySource) Configured() bool {
	return s.RawPrivateKey != "" || s.EncryptedKeyPath != ""
}

// EncryptKey seals a hex private key with PBKDF2-HMAC-SHA256 and AES-256-GCM
// and returns the JSON key file contents.
func EncryptKey(privateKeyHex string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	keyBytes, err := decodeKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}
	signer, err := NewSigner(hex.EncodeToString(keyBytes))
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := passwordGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Address:    signer.Address().Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey and returns the private
// key as hex without the 0x prefix.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var stored keyFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return "", fmt.Errorf("crypto: parsing key file: %w", err)
	}
	if stored.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", stored.Version)
	}

	var salt, nonce, ciphertext []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"salt", stored.Salt, &salt},
		{"nonce", stored.Nonce, &nonce},
		{"ciphertext", stored.Ciphertext, &ciphertext},
	} {
		b, err := base64.StdEncoding.DecodeString(f.in)
		if err != nil {
			return "", fmt.Errorf("crypto: decoding %s: %w", f.name, err)
		}
		*f.out = b
	}

	gcm, err := passwordGCM(password, salt)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// WriteKeyFile encrypts privateKeyHex and writes it to path with 0600 perms.
func WriteKeyFile(path, privateKeyHex, password string) error {
	data, err := EncryptKey(privateKeyHex, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("crypto: writing key file: %w", err)
	}
	return nil
}

// LoadSigner resolves the wallet key from src and returns a Signer.
func LoadSigner(src KeySource) (*Signer, error) {
	switch {
	case src.RawPrivateKey != "":
		return NewSigner(src.RawPrivateKey)
	case src.EncryptedKeyPath != "":
		data, err := os.ReadFile(src.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading key file: %w", err)
		}
		keyHex, err := DecryptKey(data, src.KeyPassword)
		if err != nil {
			return nil, err
		}
		return NewSigner(keyHex)
	default:
		return nil, ErrNoKeySource
	}
}

func passwordGCM(password string, salt []byte) (cipher.AEAD, error) {
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

func decodeKeyHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(b))
	}
	return b, nil
}
