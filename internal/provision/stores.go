package provision

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLIdentityStore implements IdentityStore over the auth_users table.
type SQLIdentityStore struct {
	db *sql.DB
}

func NewSQLIdentityStore(db *sql.DB) *SQLIdentityStore {
	return &SQLIdentityStore{db: db}
}

func (s *SQLIdentityStore) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, email, email_confirmed, metadata, created_at
FROM auth_users
WHERE email = ?;
`, email)

	var (
		id        Identity
		confirmed int
		metaRaw   string
		createdAt string
	)
	err := row.Scan(&id.ID, &id.Email, &confirmed, &metaRaw, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find identity: %w", err)
	}

	id.EmailConfirmed = confirmed != 0
	if err := json.Unmarshal([]byte(metaRaw), &id.Metadata); err != nil {
		return nil, fmt.Errorf("decode identity metadata: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		id.CreatedAt = t
	}
	return &id, nil
}

func (s *SQLIdentityStore) Create(ctx context.Context, id *Identity) error {
	if id.Email == "" {
		return fmt.Errorf("identity email is empty")
	}
	if id.ID == "" {
		id.ID = uuid.NewString()
	}
	if id.CreatedAt.IsZero() {
		id.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(id.Metadata)
	if err != nil {
		return fmt.Errorf("encode identity metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO auth_users(id, email, email_confirmed, metadata, created_at)
VALUES(?, ?, ?, ?, ?);
`, id.ID, id.Email, boolToInt(id.EmailConfirmed), string(meta), id.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

// SQLProfileStore implements ProfileStore over the user_profiles table.
type SQLProfileStore struct {
	db *sql.DB
}

func NewSQLProfileStore(db *sql.DB) *SQLProfileStore {
	return &SQLProfileStore{db: db}
}

func (s *SQLProfileStore) FindByEmail(ctx context.Context, email string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, auth_user_id, email, first_name, last_name, has_platform_access, is_active,
       membership_level, membership_features, trial_ends_at, auto_renew,
       subscription_status, magic_token, magic_token_expires_at, cancelled_at,
       created_at, updated_at
FROM user_profiles
WHERE email = ?;
`, email)

	var (
		p            Profile
		authUserID   sql.NullString
		firstName    sql.NullString
		lastName     sql.NullString
		hasAccess    int
		isActive     int
		level        sql.NullString
		featuresRaw  sql.NullString
		trialEndsAt  sql.NullString
		autoRenew    int
		subStatus    sql.NullString
		magicToken   sql.NullString
		tokenExpires sql.NullString
		cancelledAt  sql.NullString
		createdAt    string
		updatedAt    string
	)
	err := row.Scan(&p.ID, &authUserID, &p.Email, &firstName, &lastName, &hasAccess, &isActive,
		&level, &featuresRaw, &trialEndsAt, &autoRenew,
		&subStatus, &magicToken, &tokenExpires, &cancelledAt,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find profile: %w", err)
	}

	p.AuthUserID = authUserID.String
	p.FirstName = firstName.String
	p.LastName = lastName.String
	p.HasPlatformAccess = hasAccess != 0
	p.IsActive = isActive != 0
	p.MembershipLevel = level.String
	p.AutoRenew = autoRenew != 0
	p.SubscriptionStatus = subStatus.String
	p.MagicToken = magicToken.String

	if featuresRaw.Valid {
		if err := json.Unmarshal([]byte(featuresRaw.String), &p.MembershipFeatures); err != nil {
			return nil, fmt.Errorf("decode membership features: %w", err)
		}
	}
	if trialEndsAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, trialEndsAt.String); err == nil {
			p.TrialEndsAt = &t
		}
	}
	if tokenExpires.Valid {
		if t, err := time.Parse(time.RFC3339Nano, tokenExpires.String); err == nil {
			p.MagicTokenExpiresAt = t
		}
	}
	if cancelledAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, cancelledAt.String); err == nil {
			p.CancelledAt = &t
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		p.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		p.UpdatedAt = t
	}
	return &p, nil
}

// Insert adds a new profile. The ON CONFLICT clause is the safety net for
// the lookup/insert race between two concurrent deliveries of the same
// email: the loser refreshes access fields instead of failing, and never
// touches membership or subscription history.
func (s *SQLProfileStore) Insert(ctx context.Context, p *Profile) error {
	if p.Email == "" {
		return fmt.Errorf("profile email is empty")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	var features any
	if p.MembershipFeatures != nil {
		b, err := json.Marshal(p.MembershipFeatures)
		if err != nil {
			return fmt.Errorf("encode membership features: %w", err)
		}
		features = string(b)
	}

	nowS := p.UpdatedAt.Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO user_profiles(
  id, auth_user_id, email, first_name, last_name, has_platform_access, is_active,
  membership_level, membership_features, trial_ends_at, auto_renew,
  subscription_status, magic_token, magic_token_expires_at, created_at, updated_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(email) DO UPDATE SET
  has_platform_access    = excluded.has_platform_access,
  is_active              = excluded.is_active,
  magic_token            = excluded.magic_token,
  magic_token_expires_at = excluded.magic_token_expires_at,
  updated_at             = excluded.updated_at;
`, p.ID, nullString(p.AuthUserID), p.Email, nullString(p.FirstName), nullString(p.LastName),
		boolToInt(p.HasPlatformAccess), boolToInt(p.IsActive),
		nullString(p.MembershipLevel), features, nullTime(p.TrialEndsAt), boolToInt(p.AutoRenew),
		nullString(p.SubscriptionStatus), nullString(p.MagicToken),
		p.MagicTokenExpiresAt.Format(time.RFC3339Nano),
		p.CreatedAt.Format(time.RFC3339Nano), nowS)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (s *SQLProfileStore) RefreshAccess(ctx context.Context, email, token string, expiresAt, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE user_profiles
SET has_platform_access = 1,
    is_active = 1,
    magic_token = ?,
    magic_token_expires_at = ?,
    updated_at = ?
WHERE email = ?;
`, token, expiresAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), email)
	if err != nil {
		return fmt.Errorf("refresh profile access: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("refresh profile access: no profile for %s", email)
	}
	return nil
}

func (s *SQLProfileStore) Cancel(ctx context.Context, email string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE user_profiles
SET subscription_status = 'cancelled',
    auto_renew = 0,
    cancelled_at = ?,
    updated_at = ?
WHERE email = ?;
`, at.Format(time.RFC3339Nano), at.Format(time.RFC3339Nano), email)
	if err != nil {
		return 0, fmt.Errorf("cancel profile: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
