package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var ErrNoCredentials = errors.New("no credentials on record")

// CredentialVerifier is the external authentication collaborator. The core
// never stores or compares secrets itself.
type CredentialVerifier interface {
	Verify(ctx context.Context, userID, password string) error
}

// BcryptVerifier is the default CredentialVerifier, keeping bcrypt hashes in
// memory keyed by user id.
type BcryptVerifier struct {
	mu     sync.RWMutex
	hashes map[string]string
	cost   int
}

func NewBcryptVerifier(cost int) *BcryptVerifier {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptVerifier{
		hashes: make(map[string]string),
		cost:   cost,
	}
}

func (b *BcryptVerifier) SetPassword(userID, password string) error {
	hash, err := HashPassword(password, b.cost)
	if err != nil {
		return err
	}
	b.SetHash(userID, hash)
	return nil
}

func (b *BcryptVerifier) SetHash(userID, hash string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hashes[userID] = hash
}

func (b *BcryptVerifier) Verify(ctx context.Context, userID, password string) error {
	b.mu.RLock()
	hash, ok := b.hashes[userID]
	b.mu.RUnlock()
	if !ok {
		return ErrNoCredentials
	}
	return VerifyPassword(hash, password)
}

func (b *BcryptVerifier) SnapshotKey() string { return "identity.credentials" }

func (b *BcryptVerifier) Export() (json.RawMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return json.Marshal(b.hashes)
}

func (b *BcryptVerifier) Import(data json.RawMessage) error {
	hashes := make(map[string]string)
	if err := json.Unmarshal(data, &hashes); err != nil {
		return fmt.Errorf("decode credentials: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hashes = hashes
	return nil
}

func VerifyPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
