// Package secrets manages the lifecycle of webhook signing secrets: issuance,
// rotation with a grace window, and signature verification.
//
// The plaintext secret is shown to the caller exactly once. What the store
// keeps is the SHA-256 digest of the plaintext, which doubles as the HMAC
// verification key: senders derive the same key from their copy of the secret
// and sign "{timestamp}.{body}" with it. Sign implements that contract.
package secrets

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atlas-fitness/automations/pkg/models"
	"github.com/atlas-fitness/automations/pkg/persistence"
	"github.com/google/uuid"
)

const (
	// PlaintextPrefix marks issued secrets so they are recognizable in
	// sender configuration.
	PlaintextPrefix = "whsec_"

	// SignaturePrefix is the scheme tag expected in the signature header.
	SignaturePrefix = "sha256="

	// MinGrace is the floor for the rotation grace window.
	MinGrace = 5 * time.Minute
)

var (
	// ErrActiveSecretExists is returned by Issue when the trigger already
	// has an active secret. Callers rotate instead.
	ErrActiveSecretExists = errors.New("trigger already has an active secret")

	// ErrNoUsableSecret is returned when no active or retiring secret
	// exists for the trigger.
	ErrNoUsableSecret = errors.New("no usable secret for trigger")

	// ErrSignatureMismatch is returned when the presented signature matches
	// none of the trigger's usable secrets.
	ErrSignatureMismatch = errors.New("signature does not match any usable secret")
)

// Manager issues, rotates and verifies per-trigger signing secrets.
type Manager struct {
	repository persistence.SecretRepository
	logger     *slog.Logger
	now        func() time.Time
}

func NewManager(repository persistence.SecretRepository, logger *slog.Logger) *Manager {
	return &Manager{
		repository: repository,
		logger:     logger.With("module", "secrets"),
		now:        time.Now,
	}
}

// GraceWindow computes how long a retiring secret stays valid after rotation:
// twice the trigger's timestamp tolerance, never less than MinGrace.
func GraceWindow(tolerance time.Duration) time.Duration {
	grace := 2 * tolerance
	if grace < MinGrace {
		grace = MinGrace
	}

	return grace
}

// DeriveKey turns the plaintext secret into the HMAC key both sides use.
func DeriveKey(plaintext string) []byte {
	digest := sha256.Sum256([]byte(plaintext))

	return digest[:]
}

// Sign computes the signature header value for a delivery: the scheme tag
// followed by hex(HMAC-SHA256(DeriveKey(secret), "{timestamp}.{body}")).
func Sign(plaintext, timestamp string, body []byte) string {
	return SignaturePrefix + hex.EncodeToString(mac(DeriveKey(plaintext), timestamp, body))
}

func mac(key []byte, timestamp string, body []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(timestamp))
	h.Write([]byte("."))
	h.Write(body)

	return h.Sum(nil)
}

// Issue creates the first secret for a trigger. It fails when an active
// secret already exists so a rotation (with its grace window) is not skipped
// by accident.
func (m *Manager) Issue(ctx context.Context, triggerID string) (*models.IssuedSecret, error) {
	existing, err := m.usableSecrets(ctx, triggerID)
	if err != nil {
		return nil, err
	}

	for _, secret := range existing {
		if secret.Status == models.SecretStatusActive {
			return nil, ErrActiveSecretExists
		}
	}

	issued, err := m.createActive(ctx, triggerID)
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Issued signing secret", "trigger_id", triggerID, "secret_id", issued.SecretID)

	return issued, nil
}

// Rotate replaces the trigger's active secret. The previous active secret
// moves to retiring and keeps verifying deliveries until now+grace; any older
// retiring secret is revoked immediately, so at most two secrets verify at a
// time. Rotating a trigger with no secrets is equivalent to Issue.
func (m *Manager) Rotate(ctx context.Context, triggerID string, grace time.Duration) (*models.IssuedSecret, error) {
	if grace < MinGrace {
		grace = MinGrace
	}

	existing, err := m.usableSecrets(ctx, triggerID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()

	for _, secret := range existing {
		switch secret.Status {
		case models.SecretStatusActive:
			revokeAfter := now.Add(grace)
			secret.Status = models.SecretStatusRetiring
			secret.RetiringAt = &now
			secret.RevokeAfter = &revokeAfter
		case models.SecretStatusRetiring:
			secret.Status = models.SecretStatusRevoked
		default:
			continue
		}

		if err := m.repository.Save(ctx, secret); err != nil {
			return nil, fmt.Errorf("failed to update secret %s during rotation: %w", secret.ID, err)
		}
	}

	issued, err := m.createActive(ctx, triggerID)
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Rotated signing secret",
		"trigger_id", triggerID, "secret_id", issued.SecretID, "grace", grace.String())

	return issued, nil
}

// Verify checks the presented signature against the trigger's active secret
// first, then any retiring secret still inside its grace window. Comparison
// is constant-time. Retiring secrets found past their deadline are revoked on
// the spot.
func (m *Manager) Verify(ctx context.Context, triggerID, signature, timestamp string, body []byte) error {
	presented, err := decodeSignature(signature)
	if err != nil {
		return err
	}

	candidates, err := m.usableSecrets(ctx, triggerID)
	if err != nil {
		return err
	}

	if len(candidates) == 0 {
		return ErrNoUsableSecret
	}

	for _, secret := range candidates {
		expected := mac(secret.Hash, timestamp, body)
		if subtle.ConstantTimeCompare(presented, expected) == 1 {
			return nil
		}
	}

	return ErrSignatureMismatch
}

// SweepRetired revokes every retiring secret whose grace window has passed.
// Verification already does this lazily per trigger; the sweep catches
// secrets of triggers that stopped receiving deliveries. Returns the number
// of secrets revoked.
func (m *Manager) SweepRetired(ctx context.Context) (int, error) {
	retiring, err := m.repository.Retiring(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load retiring secrets: %w", err)
	}

	now := m.now().UTC()
	revoked := 0

	for _, secret := range retiring {
		if !secret.RetiringExpired(now) {
			continue
		}

		secret.Status = models.SecretStatusRevoked
		if err := m.repository.Save(ctx, secret); err != nil {
			return revoked, fmt.Errorf("failed to revoke secret %s: %w", secret.ID, err)
		}

		m.logger.DebugContext(ctx, "Revoked expired secret",
			"secret_id", secret.ID, "trigger_id", secret.TriggerID)

		revoked++
	}

	return revoked, nil
}

// usableSecrets loads the trigger's secrets, sweeps expired retiring ones to
// revoked, and returns the survivors active-first.
func (m *Manager) usableSecrets(ctx context.Context, triggerID string) ([]*models.Secret, error) {
	stored, err := m.repository.ByTriggerID(ctx, triggerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load secrets for trigger %s: %w", triggerID, err)
	}

	now := m.now().UTC()
	usable := make([]*models.Secret, 0, len(stored))

	for _, secret := range stored {
		if secret.RetiringExpired(now) {
			secret.Status = models.SecretStatusRevoked
			if err := m.repository.Save(ctx, secret); err != nil {
				m.logger.WarnContext(ctx, "Failed to revoke expired secret",
					"secret_id", secret.ID, "error", err)
			}

			continue
		}

		if secret.Status == models.SecretStatusRevoked {
			continue
		}

		if secret.Status == models.SecretStatusActive {
			usable = append([]*models.Secret{secret}, usable...)
		} else {
			usable = append(usable, secret)
		}
	}

	return usable, nil
}

func (m *Manager) createActive(ctx context.Context, triggerID string) (*models.IssuedSecret, error) {
	plaintext, err := generatePlaintext()
	if err != nil {
		return nil, err
	}

	secret := &models.Secret{
		ID:        uuid.New().String(),
		TriggerID: triggerID,
		Status:    models.SecretStatusActive,
		Hash:      DeriveKey(plaintext),
		Last4:     plaintext[len(plaintext)-4:],
		CreatedAt: m.now().UTC(),
	}

	if err := m.repository.Save(ctx, secret); err != nil {
		return nil, fmt.Errorf("failed to save secret for trigger %s: %w", triggerID, err)
	}

	return models.NewIssuedSecret(secret.ID, plaintext, secret.Last4), nil
}

func generatePlaintext() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate secret material: %w", err)
	}

	return PlaintextPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeSignature(signature string) ([]byte, error) {
	encoded, found := strings.CutPrefix(signature, SignaturePrefix)
	if !found {
		return nil, ErrSignatureMismatch
	}

	decoded, err := hex.DecodeString(encoded)
	if err != nil || len(decoded) != sha256.Size {
		return nil, ErrSignatureMismatch
	}

	return decoded, nil
}
