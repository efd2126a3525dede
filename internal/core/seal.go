package core

import (
	"sync"

	"github.com/org/credvault/internal/crypto"
	"github.com/org/credvault/pkg/vaulterr"
)

// KEKContext is the HKDF info string for KEK derivation.
const KEKContext = "credvault-kek-v1"

// unsealCheckPlaintext is encrypted under the KEK at init time and stored;
// an unseal key is accepted only if it decrypts this value.
const unsealCheckPlaintext = "credvault-unseal-check"

// SealManager manages the vault's seal state. The KEK is held in memory
// only while the vault is unsealed.
type SealManager struct {
	mu     sync.RWMutex
	kek    []byte
	sealed bool
}

// NewSealManager creates a SealManager in sealed state.
func NewSealManager() *SealManager {
	return &SealManager{sealed: true}
}

// IsSealed returns whether the vault is currently sealed.
func (s *SealManager) IsSealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}

// NewUnsealCheck derives the KEK for rootKey and returns the check blob
// to persist at init time.
func NewUnsealCheck(rootKey []byte) ([]byte, error) {
	kek, err := crypto.DeriveKEK(rootKey, KEKContext)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(kek)
	return crypto.Seal([]byte(unsealCheckPlaintext), kek)
}

// Unseal derives the KEK from rootKey and verifies it against the stored
// check blob. On success the vault is unsealed.
func (s *SealManager) Unseal(rootKey, check []byte) error {
	kek, err := crypto.DeriveKEK(rootKey, KEKContext)
	if err != nil {
		return err
	}
	plaintext, err := crypto.Open(check, kek)
	if err != nil || string(plaintext) != unsealCheckPlaintext {
		zeroBytes(kek)
		return vaulterr.New(vaulterr.KindInvalidRequest, "unseal key rejected")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	zeroBytes(s.kek)
	s.kek = kek
	s.sealed = false
	return nil
}

// UnsealWithRootKey unseals without verification. Used during init, when
// the check value is being created from the same key.
func (s *SealManager) UnsealWithRootKey(rootKey []byte) error {
	kek, err := crypto.DeriveKEK(rootKey, KEKContext)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	zeroBytes(s.kek)
	s.kek = kek
	s.sealed = false
	return nil
}

// Seal wipes the KEK from memory, sealing the vault.
func (s *SealManager) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	zeroBytes(s.kek)
	s.kek = nil
	s.sealed = true
}

// KEK returns a copy of the current KEK, or a Sealed error.
func (s *SealManager) KEK() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sealed {
		return nil, vaulterr.Sealed()
	}
	kekCopy := make([]byte, len(s.kek))
	copy(kekCopy, s.kek)
	return kekCopy, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
