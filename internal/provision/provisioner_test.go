package provision

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibam-learn/enrollgw/internal/catalog"
	"github.com/ibam-learn/enrollgw/internal/storage"
)

// fakeMailer records welcome sends and can be told to fail.
type fakeMailer struct {
	sent []string
	err  error
}

func (f *fakeMailer) MagicLink(token, email string) string {
	return "https://learn.test/api/auth/magic-login?token=" + token + "&email=" + email
}

func (f *fakeMailer) SendWelcome(ctx context.Context, to, name, tierName, magicLink string) error {
	f.sent = append(f.sent, to)
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestProvisioner(t *testing.T, mail WelcomeMailer) (*Provisioner, *SQLIdentityStore, *SQLProfileStore) {
	t.Helper()
	db, err := storage.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ids := NewSQLIdentityStore(db)
	profiles := NewSQLProfileStore(db)
	p := New(ids, profiles, catalog.Default(), mail, testLogger())
	return p, ids, profiles
}

func membershipRequest(email string) Request {
	cat := catalog.Default()
	return Request{
		Email:      email,
		FirstName:  "Jane",
		LastName:   "Doe",
		Assignment: cat.Resolve("IBAM Impact Members"),
	}
}

func TestProvisionCreatesIdentityAndProfile(t *testing.T) {
	ctx := context.Background()
	mail := &fakeMailer{}
	p, ids, profiles := newTestProvisioner(t, mail)

	res, err := p.Provision(ctx, membershipRequest("a@b.com"))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Len(t, res.Token, 64) // 32 bytes hex-encoded
	require.NotNil(t, res.Tier)
	assert.Equal(t, "ibam_member", res.Tier.Key)

	id, err := ids.FindByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.True(t, id.EmailConfirmed)
	assert.Equal(t, "systemio_webhook", id.Metadata["source"])

	prof, err := profiles.FindByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	require.NotNil(t, prof)
	assert.Equal(t, id.ID, prof.AuthUserID)
	assert.True(t, prof.HasPlatformAccess)
	assert.True(t, prof.IsActive)
	assert.True(t, prof.AutoRenew)
	assert.Equal(t, "ibam_member", prof.MembershipLevel)
	assert.Equal(t, "trial", prof.SubscriptionStatus)
	assert.Equal(t, res.Token, prof.MagicToken)
	require.NotNil(t, prof.TrialEndsAt)

	assert.Equal(t, []string{"a@b.com"}, mail.sent)
}

func TestProvisionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p, ids, profiles := newTestProvisioner(t, &fakeMailer{})

	first, err := p.Provision(ctx, membershipRequest("a@b.com"))
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := p.Provision(ctx, membershipRequest("a@b.com"))
	require.NoError(t, err)
	assert.False(t, second.Created)

	// Exactly one identity and one profile.
	id, err := ids.FindByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	require.NotNil(t, id)

	prof, err := profiles.FindByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	require.NotNil(t, prof)

	// A fresh token on every delivery, membership untouched.
	assert.NotEqual(t, first.Token, second.Token)
	assert.Equal(t, second.Token, prof.MagicToken)
	assert.Equal(t, "ibam_member", prof.MembershipLevel)
}

func TestReTriggerDoesNotOverwriteMembership(t *testing.T) {
	ctx := context.Background()
	cat := catalog.Default()
	p, _, profiles := newTestProvisioner(t, &fakeMailer{})

	_, err := p.Provision(ctx, Request{
		Email:      "a@b.com",
		Assignment: cat.Resolve("Business Member"),
	})
	require.NoError(t, err)

	// A later delivery resolving to a different tier must not rewrite
	// the stored membership fields.
	_, err = p.Provision(ctx, Request{
		Email:      "a@b.com",
		Assignment: cat.Resolve("IBAM Impact Members"),
	})
	require.NoError(t, err)

	prof, err := profiles.FindByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "business", prof.MembershipLevel)
}

func TestProvisionCourseFallsBackToTrialTier(t *testing.T) {
	ctx := context.Background()
	cat := catalog.Default()
	p, _, profiles := newTestProvisioner(t, &fakeMailer{})

	res, err := p.Provision(ctx, Request{
		Email:      "c@d.com",
		Assignment: cat.Resolve("IBAM Course Access"),
	})
	require.NoError(t, err)
	assert.Equal(t, catalog.TrialKey, res.Tier.Key)

	prof, err := profiles.FindByEmail(ctx, "c@d.com")
	require.NoError(t, err)
	assert.Equal(t, catalog.TrialKey, prof.MembershipLevel)
	assert.Equal(t, "trial", prof.SubscriptionStatus)
}

func TestProvisionCompletesAfterPartialFailure(t *testing.T) {
	// Identity exists, profile absent: a re-delivery must finish the job.
	ctx := context.Background()
	p, ids, profiles := newTestProvisioner(t, &fakeMailer{})

	require.NoError(t, ids.Create(ctx, &Identity{
		Email:          "a@b.com",
		EmailConfirmed: true,
	}))

	res, err := p.Provision(ctx, membershipRequest("a@b.com"))
	require.NoError(t, err)
	assert.True(t, res.Created)

	prof, err := profiles.FindByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	require.NotNil(t, prof)
}

func TestWelcomeEmailFailureDoesNotFailProvisioning(t *testing.T) {
	ctx := context.Background()
	mail := &fakeMailer{err: errors.New("smtp down")}
	p, _, profiles := newTestProvisioner(t, mail)

	res, err := p.Provision(ctx, membershipRequest("a@b.com"))
	require.NoError(t, err)
	assert.True(t, res.Created)

	prof, err := profiles.FindByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	require.NotNil(t, prof, "account state must stand regardless of notification outcome")
}

func TestCancelMutatesSubscriptionOnly(t *testing.T) {
	ctx := context.Background()
	p, _, profiles := newTestProvisioner(t, &fakeMailer{})

	_, err := p.Provision(ctx, membershipRequest("a@b.com"))
	require.NoError(t, err)

	require.NoError(t, p.Cancel(ctx, "a@b.com"))

	prof, err := profiles.FindByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", prof.SubscriptionStatus)
	assert.False(t, prof.AutoRenew)
	require.NotNil(t, prof.CancelledAt)
	assert.True(t, prof.HasPlatformAccess, "cancellation must not revoke platform access")
}

func TestCancelUnknownEmailIsNoOp(t *testing.T) {
	p, _, _ := newTestProvisioner(t, &fakeMailer{})
	require.NoError(t, p.Cancel(context.Background(), "nobody@b.com"))
}

func TestProvisionErrorStages(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenMemory(ctx)
	require.NoError(t, err)

	p := New(NewSQLIdentityStore(db), NewSQLProfileStore(db), catalog.Default(), nil, testLogger())
	db.Close()

	_, err = p.Provision(ctx, membershipRequest("a@b.com"))
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StageIdentityCreate, perr.Stage)
}

func TestTokenExpirySevenDays(t *testing.T) {
	ctx := context.Background()
	p, _, profiles := newTestProvisioner(t, &fakeMailer{})

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.WithClock(func() time.Time { return now })

	_, err := p.Provision(ctx, membershipRequest("a@b.com"))
	require.NoError(t, err)

	prof, err := profiles.FindByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, now.Add(7*24*time.Hour), prof.MagicTokenExpiresAt)
}
