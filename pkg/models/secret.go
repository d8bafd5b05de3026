package models

import (
	"errors"
	"sync"
	"time"
)

// SecretStatus is the lifecycle state of a signing secret.
type SecretStatus string

const (
	SecretStatusActive   SecretStatus = "active"   // Used for new signatures, tried first on verify
	SecretStatusRetiring SecretStatus = "retiring" // Still valid until the grace deadline
	SecretStatusRevoked  SecretStatus = "revoked"  // Rejected everywhere
)

// Secret is the stored form of a per-trigger signing secret. Only the SHA-256
// hash of the secret material is persisted; the plaintext exists once, inside
// the IssuedSecret returned at issuance.
type Secret struct {
	ID          string       `json:"id"`
	TriggerID   string       `json:"trigger_id"`
	Status      SecretStatus `json:"status"`
	Hash        []byte       `json:"hash"`
	Last4       string       `json:"last4"`
	CreatedAt   time.Time    `json:"created_at"`
	RetiringAt  *time.Time   `json:"retiring_at,omitempty"`
	RevokeAfter *time.Time   `json:"revoke_after,omitempty"`
}

// RetiringExpired reports whether a retiring secret's grace window has passed.
func (s *Secret) RetiringExpired(now time.Time) bool {
	return s.Status == SecretStatusRetiring && s.RevokeAfter != nil && now.After(*s.RevokeAfter)
}

// ErrSecretAlreadyRevealed is returned when the one-time plaintext is read twice.
var ErrSecretAlreadyRevealed = errors.New("secret plaintext already revealed")

// IssuedSecret carries a freshly issued secret. The plaintext can be read
// exactly once; callers display it and discard it. This models the builder's
// reveal-once behavior as a capability instead of a hidden field.
type IssuedSecret struct {
	SecretID string
	Last4    string

	mu        sync.Mutex
	plaintext string
	revealed  bool
}

// NewIssuedSecret wraps the one-time plaintext of a new secret.
func NewIssuedSecret(secretID, plaintext, last4 string) *IssuedSecret {
	return &IssuedSecret{
		SecretID:  secretID,
		Last4:     last4,
		plaintext: plaintext,
	}
}

// Reveal returns the plaintext on the first call and fails on every later one.
func (s *IssuedSecret) Reveal() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.revealed {
		return "", ErrSecretAlreadyRevealed
	}

	s.revealed = true
	plaintext := s.plaintext
	s.plaintext = ""

	return plaintext, nil
}
