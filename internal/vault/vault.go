// Package vault implements the C1 credential vault contract: envelope
// encryption at rest, scoped plaintext handles, and a verification hook so
// C6 can probe a credential before trusting it for live order placement.
//
// Production-grade master-key derivation needs a real KDF (scrypt/argon2);
// this pack carries none, so passphrase-derived keys here use a single
// HMAC-SHA256 stretch and are explicitly flagged non-production. Operators
// who care should supply VAULT_MASTER_KEY_HEX directly.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/aristath/tradecore/internal/errs"
)

const keySize = 32 // AES-256

// Vault encrypts and decrypts secret material with a single master key.
type Vault struct {
	key []byte
	log zerolog.Logger
}

// New builds a Vault from a 32-byte master key.
func New(key []byte, log zerolog.Logger) (*Vault, error) {
	if len(key) != keySize {
		return nil, errs.New(errs.InvalidInput, fmt.Sprintf("master key must be %d bytes, got %d", keySize, len(key)))
	}
	return &Vault{key: key, log: log.With().Str("module", "vault").Logger()}, nil
}

// NewFromHex builds a Vault from a hex-encoded 32-byte master key.
func NewFromHex(hexKey string, log zerolog.Logger) (*Vault, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "master key is not valid hex", err)
	}
	return New(raw, log)
}

// NewFromPassphrase derives a master key from an operator passphrase via a
// single HMAC-SHA256 stretch. Not a real KDF: no salt iteration, no memory
// hardness. Flagged non-production; see package doc.
func NewFromPassphrase(passphrase string, log zerolog.Logger) (*Vault, error) {
	if passphrase == "" {
		return nil, errs.New(errs.InvalidInput, "passphrase must not be empty")
	}
	mac := hmac.New(sha256.New, []byte("tradecore-vault-v1"))
	mac.Write([]byte(passphrase))
	key := mac.Sum(nil) // 32 bytes, matches AES-256 key size
	log.Warn().Msg("vault master key derived from passphrase via single-round HMAC stretch; supply VAULT_MASTER_KEY_HEX in production")
	return New(key, log)
}

// Encrypt seals plaintext into an opaque ciphertext envelope: nonce prefix
// followed by AES-256-GCM sealed output.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "aes cipher init failed", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "gcm init failed", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.Wrap(errs.Internal, "nonce generation failed", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext envelope produced by Encrypt.
func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "aes cipher init failed", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "gcm init failed", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errs.New(errs.InvalidInput, "ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Unauthorized, "ciphertext failed authentication", err)
	}
	return plaintext, nil
}
