package models

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"os"

	"github.com/rohanthewiz/serr"
	"golang.org/x/crypto/scrypt"
)

// encryptionKey holds the AES-256 key derived at startup.
// Always 32 bytes once initialized. Package-level so the queue store can
// seal/open blobs without threading the key through every call.
var encryptionKey []byte

// EncryptionKeyEnvVar names the environment variable holding the key
// material. A 32-character value is used directly as the AES-256 key;
// any other length is stretched to 32 bytes with scrypt.
const EncryptionKeyEnvVar = "GOTASKS_ENCRYPTION_KEY"

// encryptionKeySalt is the fixed scrypt salt for passphrase stretching.
// Must never change once data has been written: rederiving with a
// different salt makes existing blobs undecryptable.
var encryptionKeySalt = []byte("gotasks-queue-at-rest-v1")

// InitEncryption derives the at-rest encryption key from the environment.
// Call at startup before the queue store loads its blob. The key must be
// stable across restarts; a changed key makes the persisted queue
// undecryptable.
func InitEncryption() error {
	keyStr := os.Getenv(EncryptionKeyEnvVar)
	if keyStr == "" {
		return serr.New("encryption key not set: environment variable " + EncryptionKeyEnvVar + " is required")
	}

	// A 32-character value is already AES-256 sized; anything else is
	// treated as a passphrase and stretched.
	if len(keyStr) == 32 {
		encryptionKey = []byte(keyStr)
		return nil
	}

	key, err := scrypt.Key([]byte(keyStr), encryptionKeySalt, 32768, 8, 1, 32)
	if err != nil {
		return serr.Wrap(err, "failed to derive encryption key")
	}
	encryptionKey = key
	return nil
}

// IsEncryptionEnabled returns true once the key has been initialized.
func IsEncryptionEnabled() bool {
	return len(encryptionKey) == 32
}

// ResetEncryption clears the key. Intended for tests only, to isolate
// encryption state between test cases.
func ResetEncryption() {
	encryptionKey = nil
}

// EncryptBlob seals plaintext with AES-256-GCM. The returned bytes are
// nonce || ciphertext, ready to store as a single opaque blob.
//
// GCM provides confidentiality and authenticity: tampering with the stored
// blob is detected on open. A fresh random nonce is generated per call;
// nonce reuse under the same key breaks GCM.
func EncryptBlob(plaintext []byte) ([]byte, error) {
	if !IsEncryptionEnabled() {
		return nil, serr.New("encryption not initialized: call InitEncryption first")
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, serr.Wrap(err, "failed to create AES cipher")
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, serr.Wrap(err, "failed to create GCM mode")
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, serr.Wrap(err, "failed to generate random nonce")
	}

	// Seal appends the ciphertext (and auth tag) to the nonce so the
	// whole value round-trips as one blob.
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptBlob opens a blob produced by EncryptBlob.
//
// Returns an error if encryption is not initialized, the blob is too short
// to contain a nonce, or GCM authentication fails (corrupted or tampered
// data, or a different key).
func DecryptBlob(sealed []byte) ([]byte, error) {
	if !IsEncryptionEnabled() {
		return nil, serr.New("encryption not initialized: call InitEncryption first")
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, serr.Wrap(err, "failed to create AES cipher")
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, serr.Wrap(err, "failed to create GCM mode")
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, serr.New("encrypted blob is too short to contain a nonce")
	}

	nonce := sealed[:gcm.NonceSize()]
	ciphertext := sealed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, serr.Wrap(err, "decryption failed: blob may be corrupted or tampered")
	}

	return plaintext, nil
}
