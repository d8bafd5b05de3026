package secrets

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/atlas-fitness/automations/pkg/models"
	"github.com/atlas-fitness/automations/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return NewManager(file.NewPersistence(t.TempDir()).SecretRepository(), logger)
}

func TestIssueAndVerify(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)

	issued, err := manager.Issue(ctx, "trigger-1")
	require.NoError(t, err)

	plaintext, err := issued.Reveal()
	require.NoError(t, err)
	assert.Contains(t, plaintext, PlaintextPrefix)
	assert.Equal(t, plaintext[len(plaintext)-4:], issued.Last4)

	_, err = issued.Reveal()
	assert.ErrorIs(t, err, models.ErrSecretAlreadyRevealed)

	body := []byte(`{"form_id":"f-1"}`)
	signature := Sign(plaintext, "1700000000", body)

	assert.NoError(t, manager.Verify(ctx, "trigger-1", signature, "1700000000", body))

	// Same signature over a different timestamp or body must fail.
	assert.ErrorIs(t, manager.Verify(ctx, "trigger-1", signature, "1700000001", body), ErrSignatureMismatch)
	assert.ErrorIs(t, manager.Verify(ctx, "trigger-1", signature, "1700000000", []byte(`{}`)), ErrSignatureMismatch)
}

func TestIssueTwiceFails(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)

	_, err := manager.Issue(ctx, "trigger-1")
	require.NoError(t, err)

	_, err = manager.Issue(ctx, "trigger-1")
	assert.ErrorIs(t, err, ErrActiveSecretExists)
}

func TestVerifyWithoutSecrets(t *testing.T) {
	manager := newTestManager(t)

	err := manager.Verify(context.Background(), "trigger-1", Sign("whsec_x", "0", nil), "0", nil)
	assert.ErrorIs(t, err, ErrNoUsableSecret)
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)

	_, err := manager.Issue(ctx, "trigger-1")
	require.NoError(t, err)

	assert.ErrorIs(t, manager.Verify(ctx, "trigger-1", "md5=abc", "0", nil), ErrSignatureMismatch)
	assert.ErrorIs(t, manager.Verify(ctx, "trigger-1", "sha256=nothex", "0", nil), ErrSignatureMismatch)
	assert.ErrorIs(t, manager.Verify(ctx, "trigger-1", "sha256=abcd", "0", nil), ErrSignatureMismatch)
}

func TestRotateKeepsOldSecretDuringGrace(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)

	issued, err := manager.Issue(ctx, "trigger-1")
	require.NoError(t, err)
	oldPlaintext, err := issued.Reveal()
	require.NoError(t, err)

	rotated, err := manager.Rotate(ctx, "trigger-1", GraceWindow(300*time.Second))
	require.NoError(t, err)
	newPlaintext, err := rotated.Reveal()
	require.NoError(t, err)
	require.NotEqual(t, oldPlaintext, newPlaintext)

	body := []byte(`{"client_id":"c-9"}`)

	// Both the new active and the retiring secret verify inside the window.
	assert.NoError(t, manager.Verify(ctx, "trigger-1", Sign(newPlaintext, "100", body), "100", body))
	assert.NoError(t, manager.Verify(ctx, "trigger-1", Sign(oldPlaintext, "100", body), "100", body))
}

func TestRotateRevokesSecretAfterGrace(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)

	issued, err := manager.Issue(ctx, "trigger-1")
	require.NoError(t, err)
	oldPlaintext, err := issued.Reveal()
	require.NoError(t, err)

	rotated, err := manager.Rotate(ctx, "trigger-1", MinGrace)
	require.NoError(t, err)
	newPlaintext, err := rotated.Reveal()
	require.NoError(t, err)

	// Move the clock past the grace deadline.
	manager.now = func() time.Time { return time.Now().Add(MinGrace + time.Minute) }

	body := []byte(`{}`)
	assert.NoError(t, manager.Verify(ctx, "trigger-1", Sign(newPlaintext, "100", body), "100", body))
	assert.ErrorIs(t, manager.Verify(ctx, "trigger-1", Sign(oldPlaintext, "100", body), "100", body),
		ErrSignatureMismatch)
}

func TestSecondRotationRevokesPriorRetiring(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)

	first, err := manager.Issue(ctx, "trigger-1")
	require.NoError(t, err)
	firstPlaintext, err := first.Reveal()
	require.NoError(t, err)

	_, err = manager.Rotate(ctx, "trigger-1", MinGrace)
	require.NoError(t, err)

	third, err := manager.Rotate(ctx, "trigger-1", MinGrace)
	require.NoError(t, err)
	thirdPlaintext, err := third.Reveal()
	require.NoError(t, err)

	// The first secret was retiring and got revoked by the second rotation,
	// even though its own grace deadline has not passed.
	body := []byte(`{}`)
	assert.ErrorIs(t, manager.Verify(ctx, "trigger-1", Sign(firstPlaintext, "100", body), "100", body),
		ErrSignatureMismatch)
	assert.NoError(t, manager.Verify(ctx, "trigger-1", Sign(thirdPlaintext, "100", body), "100", body))
}

func TestGraceWindow(t *testing.T) {
	assert.Equal(t, 10*time.Minute, GraceWindow(5*time.Minute))
	assert.Equal(t, MinGrace, GraceWindow(30*time.Second))
	assert.Equal(t, 20*time.Minute, GraceWindow(600*time.Second))
}

func TestSweepRetired(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)

	// Two triggers: one rotated (leaving a retiring secret), one untouched.
	_, err := manager.Issue(ctx, "trigger-1")
	require.NoError(t, err)
	_, err = manager.Rotate(ctx, "trigger-1", MinGrace)
	require.NoError(t, err)

	_, err = manager.Issue(ctx, "trigger-2")
	require.NoError(t, err)

	// Inside the grace window nothing is revoked.
	revoked, err := manager.SweepRetired(ctx)
	require.NoError(t, err)
	assert.Zero(t, revoked)

	manager.now = func() time.Time { return time.Now().Add(MinGrace + time.Minute) }

	revoked, err = manager.SweepRetired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, revoked)

	// Idempotent: a second sweep finds nothing left to revoke.
	revoked, err = manager.SweepRetired(ctx)
	require.NoError(t, err)
	assert.Zero(t, revoked)
}
