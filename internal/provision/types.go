package provision

import (
	"context"
	"fmt"
	"time"
)

// Identity is the auth-store record for a contact. The provisioner creates
// identities but never deletes them.
type Identity struct {
	ID             string
	Email          string
	EmailConfirmed bool
	Metadata       map[string]string
	CreatedAt      time.Time
}

// Profile is the platform account record. Exactly one profile exists per
// email address; re-deliveries mutate it rather than duplicating it.
type Profile struct {
	ID                  string
	AuthUserID          string
	Email               string
	FirstName           string
	LastName            string
	HasPlatformAccess   bool
	IsActive            bool
	MembershipLevel     string
	MembershipFeatures  map[string]any
	TrialEndsAt         *time.Time
	AutoRenew           bool
	SubscriptionStatus  string
	MagicToken          string
	MagicTokenExpiresAt time.Time
	CancelledAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IdentityStore is the external auth collaborator.
type IdentityStore interface {
	// FindByEmail returns (nil, nil) when no identity exists.
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	Create(ctx context.Context, id *Identity) error
}

// ProfileStore is the platform account collaborator.
type ProfileStore interface {
	// FindByEmail returns (nil, nil) when no profile exists.
	FindByEmail(ctx context.Context, email string) (*Profile, error)
	// Insert adds a new profile. On an email conflict (lost race with a
	// concurrent delivery) it degrades to refreshing the access fields,
	// never duplicating or overwriting membership history.
	Insert(ctx context.Context, p *Profile) error
	// RefreshAccess re-enables access and rotates the magic token without
	// touching membership or subscription history.
	RefreshAccess(ctx context.Context, email, token string, expiresAt, now time.Time) error
	// Cancel marks the subscription cancelled. Returns the number of
	// profiles affected (0 when the email is unknown).
	Cancel(ctx context.Context, email string, at time.Time) (int64, error)
}

// Stage identifies which provisioning step failed.
type Stage string

const (
	StageIdentityCreate Stage = "identity_create"
	StageProfileInsert  Stage = "profile_insert"
	StageProfileUpdate  Stage = "profile_update"
)

// Error reports a provisioning failure with the step that produced it.
// There is no rollback: partial state stands and a later re-delivery of the
// same webhook completes whatever was left undone.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provisioning failed at %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
