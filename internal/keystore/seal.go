package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// Seal encrypts plaintext under the store's primary encryption key
// using AES-256-GCM, returning ciphertext and the key version it was
// sealed with so Open can pick the right key later even after
// rotation.
func (s *Store) Seal(plaintext []byte) (ciphertext []byte, version int, err error) {
	key, err := s.EncryptionPrimary()
	if err != nil {
		return nil, 0, err
	}
	gcm, err := newGCM(key.Key)
	if err != nil {
		return nil, 0, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, 0, fmt.Errorf("keystore: nonce generation: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return sealed, key.Version, nil
}

// Open decrypts ciphertext that was sealed under the given key
// version, which may be a retired (non-primary) version.
func (s *Store) Open(ciphertext []byte, version int) ([]byte, error) {
	key, ok := s.EncryptionByVersion(version)
	if !ok {
		return nil, fmt.Errorf("keystore: encryption key version %d not available", version)
	}
	gcm, err := newGCM(key.Key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("keystore: ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("keystore: decryption failed: %w", err)
	}
	return plaintext, nil
}

func newGCM(key [32]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("keystore: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: gcm mode: %w", err)
	}
	return gcm, nil
}
