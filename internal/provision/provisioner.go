// Package provision idempotently turns a resolved webhook assignment into an
// identity, a profile and a welcome email.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ibam-learn/enrollgw/internal/catalog"
)

// TokenTTL is how long a magic login token stays valid.
const TokenTTL = 7 * 24 * time.Hour

// WelcomeMailer builds magic-login links and delivers the welcome email.
type WelcomeMailer interface {
	MagicLink(token, email string) string
	SendWelcome(ctx context.Context, to, name, tierName, magicLink string) error
}

// Request describes one provisioning call.
type Request struct {
	Email      string
	FirstName  string
	LastName   string
	Assignment catalog.Assignment
}

// Result reports the committed outcome of a provisioning call.
type Result struct {
	Created bool   // a new profile was inserted
	Token   string // the freshly issued magic token
	Tier    *catalog.MembershipTier
}

// Provisioner ensures an identity and profile exist for a contact. Every
// step is individually safe to re-run: re-delivery of the same webhook is
// the recovery mechanism for partial failures.
type Provisioner struct {
	identities IdentityStore
	profiles   ProfileStore
	catalog    *catalog.Catalog
	mail       WelcomeMailer
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a provisioner. mail may be nil to disable welcome emails.
func New(identities IdentityStore, profiles ProfileStore, cat *catalog.Catalog, mail WelcomeMailer, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		identities: identities,
		profiles:   profiles,
		catalog:    cat,
		mail:       mail,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the provisioner's clock. Tests only.
func (p *Provisioner) WithClock(now func() time.Time) *Provisioner {
	p.now = now
	return p
}

// Provision runs the provisioning sequence for a contact:
//
//  1. issue a fresh token (unconditionally, even for existing profiles)
//  2. ensure an identity exists
//  3. insert the profile, or refresh access fields on an existing one
//  4. send the welcome email (best effort; never fails the operation)
//
// Steps 2-3 commit independently of step 4.
func (p *Provisioner) Provision(ctx context.Context, req Request) (*Result, error) {
	now := p.now()

	token, err := NewToken()
	if err != nil {
		return nil, fmt.Errorf("issue magic token: %w", err)
	}
	expiresAt := now.Add(TokenTTL)

	tier := req.Assignment.Tier
	if tier == nil {
		tier = p.catalog.TrialTier()
	}

	identity, err := p.identities.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, &Error{Stage: StageIdentityCreate, Err: err}
	}
	if identity == nil {
		identity = &Identity{
			Email:          req.Email,
			EmailConfirmed: true,
			Metadata:       identityMetadata(req, tier),
			CreatedAt:      now,
		}
		if err := p.identities.Create(ctx, identity); err != nil {
			// No profile without an identity.
			return nil, &Error{Stage: StageIdentityCreate, Err: err}
		}
	}

	existing, err := p.profiles.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, &Error{Stage: StageProfileUpdate, Err: err}
	}

	created := existing == nil
	if created {
		trialEnds := tier.TrialEndsAt(now)
		profile := &Profile{
			AuthUserID:          identity.ID,
			Email:               req.Email,
			FirstName:           req.FirstName,
			LastName:            req.LastName,
			HasPlatformAccess:   true,
			IsActive:            true,
			MembershipLevel:     tier.Key,
			MembershipFeatures:  tier.Features,
			TrialEndsAt:         &trialEnds,
			AutoRenew:           true,
			SubscriptionStatus:  initialStatus(tier),
			MagicToken:          token,
			MagicTokenExpiresAt: expiresAt,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := p.profiles.Insert(ctx, profile); err != nil {
			return nil, &Error{Stage: StageProfileInsert, Err: err}
		}
	} else {
		// Re-trigger: only access flags and the token are touched;
		// membership and subscription history stand.
		if err := p.profiles.RefreshAccess(ctx, req.Email, token, expiresAt, now); err != nil {
			return nil, &Error{Stage: StageProfileUpdate, Err: err}
		}
	}

	if p.mail != nil {
		link := p.mail.MagicLink(token, req.Email)
		name := strings.TrimSpace(req.FirstName + " " + req.LastName)
		if err := p.mail.SendWelcome(ctx, req.Email, name, tier.Name, link); err != nil {
			// Account state is already committed and stands.
			p.logger.Warn("welcome email failed",
				"email", req.Email,
				"error", err,
			)
		}
	}

	return &Result{Created: created, Token: token, Tier: tier}, nil
}

// Cancel applies a tag-removal cancellation: subscription_status becomes
// "cancelled", auto-renew stops, cancelled_at is stamped. Platform access is
// deliberately left untouched. An unknown email is a no-op.
func (p *Provisioner) Cancel(ctx context.Context, email string) error {
	n, err := p.profiles.Cancel(ctx, email, p.now())
	if err != nil {
		return &Error{Stage: StageProfileUpdate, Err: err}
	}
	if n == 0 {
		p.logger.Warn("cancellation for unknown profile", "email", email)
	}
	return nil
}

func identityMetadata(req Request, tier *catalog.MembershipTier) map[string]string {
	meta := map[string]string{
		"first_name": req.FirstName,
		"last_name":  req.LastName,
		"source":     "systemio_webhook",
	}
	if req.Assignment.Course != nil {
		meta["course"] = req.Assignment.Course.CourseID
	}
	if tier != nil {
		meta["membership_tier"] = tier.Key
	}
	return meta
}

func initialStatus(tier *catalog.MembershipTier) string {
	if tier.TrialDays > 0 {
		return "trial"
	}
	return "active"
}
