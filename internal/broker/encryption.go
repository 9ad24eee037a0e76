package broker

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the size of the AES-256 key in bytes.
	KeySize = 32
	// PBKDF2Iterations is the number of iterations for key derivation.
	PBKDF2Iterations = 100000
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be at least 32 characters")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Encryptor seals access tokens at rest. Each account key gets its own derived key,
// so a ciphertext copied to another account row does not decrypt.
type Encryptor struct {
	masterKey []byte
}

// NewEncryptor creates a new Encryptor with the given master secret.
func NewEncryptor(secret string) (*Encryptor, error) {
	if len(secret) < 32 {
		return nil, ErrInvalidKey
	}
	hash := sha256.Sum256([]byte(secret))
	return &Encryptor{masterKey: hash[:]}, nil
}

// DeriveKey derives the AES key for one account key ("<account>_<environment>").
func (e *Encryptor) DeriveKey(scope string) []byte {
	salt := "account:" + scope
	return pbkdf2.Key(e.masterKey, []byte(salt), PBKDF2Iterations, KeySize, sha256.New)
}

func (e *Encryptor) gcm(scope string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.DeriveKey(scope))
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext with AES-256-GCM and returns ciphertext and nonce.
func (e *Encryptor) Encrypt(plaintext, scope string) (ciphertext, nonce []byte, err error) {
	gcm, err := e.gcm(scope)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return ciphertext, nonce, nil
}

// Decrypt opens a ciphertext produced by Encrypt for the same scope.
func (e *Encryptor) Decrypt(ciphertext, nonce []byte, scope string) (string, error) {
	if len(ciphertext) == 0 || len(nonce) == 0 {
		return "", ErrInvalidCiphertext
	}

	gcm, err := e.gcm(scope)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", ErrInvalidCiphertext
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
