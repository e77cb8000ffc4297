// Package keystore implements the Secret & Key Store (C2): three
// logical keysets (token-signing, secret-encryption, password pepper),
// each an ordered list of versions with exactly one primary and zero or
// more retired entries accepted for verification only.
//
// Grounded on the teacher's configuration-at-startup pattern
// (services/.../rpc/internal/config) generalized to support rotation,
// and on pkg/gourdiantoken-master's key-loading/parsing conventions
// (initializeKeys/parseKeyPair) for the signing keyset's asymmetric
// material.
package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zeromicro/go-zero/core/logx"
)

// SigningKey is one version of the asymmetric keypair used to sign and
// verify access tokens.
type SigningKey struct {
	Version int
	Private *rsa.PrivateKey
	Public  interface{} // *rsa.PublicKey or *ecdsa.PublicKey depending on algorithm
}

// EncryptionKey is one version of the symmetric key used to encrypt
// secret-bearing credential fields at rest (TOTP seeds, recovery
// codes), per C7.
type EncryptionKey struct {
	Version int
	Key     [32]byte // AES-256-GCM key material
}

// PepperKey is one version of the process-wide password pepper
// consumed by C1.
type PepperKey struct {
	Version int
	Value   []byte
}

// keyset is a generic ordered collection with exactly one primary. It
// is swapped atomically on rotation so readers never observe a
// partially-updated set (§5: "rotation swaps an immutable keyset
// atomically").
type keyset[T any] struct {
	primary int
	byVer   map[int]T
}

// Store holds the three logical keysets described in §4.2. All key
// material lives only in process memory; nothing here is ever
// serialized to logs or error strings.
type Store struct {
	mu sync.Mutex // guards writes; reads go through the atomic pointer below

	signing    atomic.Pointer[keyset[SigningKey]]
	encryption atomic.Pointer[keyset[EncryptionKey]]
	pepper     atomic.Pointer[keyset[PepperKey]]
}

// New constructs a Store pre-loaded with the given keysets. At least
// one version of each kind must be supplied; the first in each slice is
// treated as primary.
func New(signing []SigningKey, encryption []EncryptionKey, peppers []PepperKey) (*Store, error) {
	if len(signing) == 0 || len(encryption) == 0 || len(peppers) == 0 {
		return nil, fmt.Errorf("keystore: all three keysets require at least one version at startup")
	}
	s := &Store{}
	s.signing.Store(buildKeyset(signing, func(k SigningKey) int { return k.Version }))
	s.encryption.Store(buildKeyset(encryption, func(k EncryptionKey) int { return k.Version }))
	s.pepper.Store(buildKeyset(peppers, func(k PepperKey) int { return k.Version }))
	return s, nil
}

func buildKeyset[T any](items []T, ver func(T) int) *keyset[T] {
	ks := &keyset[T]{byVer: make(map[int]T, len(items))}
	for i, it := range items {
		if i == 0 {
			ks.primary = ver(it)
		}
		ks.byVer[ver(it)] = it
	}
	return ks
}

// SigningPrimary returns the current primary signing key, used for new
// token issuance.
func (s *Store) SigningPrimary() (SigningKey, error) {
	ks := s.signing.Load()
	k, ok := ks.byVer[ks.primary]
	if !ok {
		return SigningKey{}, fmt.Errorf("keystore: no primary signing key loaded")
	}
	return k, nil
}

// SigningByVersion returns the signing key for the given version,
// whether primary or retired, for token verification.
func (s *Store) SigningByVersion(version int) (SigningKey, bool) {
	ks := s.signing.Load()
	k, ok := ks.byVer[version]
	return k, ok
}

// EncryptionPrimary returns the current primary secret-encryption key.
func (s *Store) EncryptionPrimary() (EncryptionKey, error) {
	ks := s.encryption.Load()
	k, ok := ks.byVer[ks.primary]
	if !ok {
		return EncryptionKey{}, fmt.Errorf("keystore: no primary encryption key loaded")
	}
	return k, nil
}

// EncryptionByVersion returns the encryption key for the given version.
func (s *Store) EncryptionByVersion(version int) (EncryptionKey, bool) {
	ks := s.encryption.Load()
	k, ok := ks.byVer[version]
	return k, ok
}

// PepperPrimary returns the active pepper version and value.
func (s *Store) PepperPrimary() (PepperKey, error) {
	ks := s.pepper.Load()
	k, ok := ks.byVer[ks.primary]
	if !ok {
		return PepperKey{}, fmt.Errorf("keystore: no primary pepper loaded")
	}
	return k, nil
}

// PepperByVersion returns the pepper for the given version.
func (s *Store) PepperByVersion(version int) (PepperKey, bool) {
	ks := s.pepper.Load()
	k, ok := ks.byVer[version]
	return k, ok
}

// RotateSigning adds newKey as the new primary signing key, demoting
// the previous primary to retired (still accepted for verification).
func (s *Store) RotateSigning(newKey SigningKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.signing.Load()
	next := &keyset[SigningKey]{primary: newKey.Version, byVer: make(map[int]SigningKey, len(old.byVer)+1)}
	for v, k := range old.byVer {
		next.byVer[v] = k
	}
	next.byVer[newKey.Version] = newKey
	s.signing.Store(next)
	logx.Infof("keystore: rotated signing key to version %d", newKey.Version)
}

// RotateEncryption adds newKey as the new primary encryption key.
func (s *Store) RotateEncryption(newKey EncryptionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.encryption.Load()
	next := &keyset[EncryptionKey]{primary: newKey.Version, byVer: make(map[int]EncryptionKey, len(old.byVer)+1)}
	for v, k := range old.byVer {
		next.byVer[v] = k
	}
	next.byVer[newKey.Version] = newKey
	s.encryption.Store(next)
	logx.Infof("keystore: rotated encryption key to version %d", newKey.Version)
}

// RotatePepper adds newKey as the new primary pepper.
func (s *Store) RotatePepper(newKey PepperKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.pepper.Load()
	next := &keyset[PepperKey]{primary: newKey.Version, byVer: make(map[int]PepperKey, len(old.byVer)+1)}
	for v, k := range old.byVer {
		next.byVer[v] = k
	}
	next.byVer[newKey.Version] = newKey
	s.pepper.Store(next)
	logx.Infof("keystore: rotated pepper to version %d", newKey.Version)
}

// RetireSigning removes a signing key version from the accepted set.
// Callers must ensure every token signed by that version could have
// expired first (§4.2); this function does not itself check expiry.
func (s *Store) RetireSigning(version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.signing.Load()
	if version == old.primary {
		return fmt.Errorf("keystore: cannot retire the current primary signing key")
	}
	next := &keyset[SigningKey]{primary: old.primary, byVer: make(map[int]SigningKey, len(old.byVer))}
	for v, k := range old.byVer {
		if v == version {
			continue
		}
		next.byVer[v] = k
	}
	s.signing.Store(next)
	return nil
}

// GenerateRSASigningKey is a convenience constructor used by tests and
// bootstrap code that don't load keys from configured PEM files.
func GenerateRSASigningKey(version int, bits int) (SigningKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return SigningKey{}, fmt.Errorf("keystore: generate rsa key: %w", err)
	}
	return SigningKey{Version: version, Private: priv, Public: &priv.PublicKey}, nil
}
