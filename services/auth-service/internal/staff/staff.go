// Package staff signs business staff in with emailed one-time codes and
// issues access and refresh tokens.
package staff

import (
	"context"
	"errors"
	"time"

	"github.com/bookwell/bookwell/libs/otp"
	"github.com/bookwell/bookwell/libs/outbox"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrEmailTaken     = errors.New("email already registered")
	ErrRateLimited    = errors.New("too many code requests, try again later")
	ErrDelivery       = errors.New("could not deliver the sign-in code")
	ErrInvalidRefresh = errors.New("refresh token is invalid or expired")
)

const EventStaffCreated = "auth.staff.created.v1"

type User struct {
	ID         string
	BusinessID string
	Email      string
	Role       string
	CreatedAt  time.Time
}

type LoginCode struct {
	ID    string
	Email string
	otp.Code
	CreatedAt time.Time
}

type RefreshToken struct {
	ID        string
	UserID    string
	Hash      string
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Store persists staff accounts, codes and refresh tokens.
type Store interface {
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	// CreateUser inserts u and enqueues evt in one transaction.
	CreateUser(ctx context.Context, u User, evt outbox.Event) error

	InsertCode(ctx context.Context, c LoginCode) error
	LatestCode(ctx context.Context, email string) (LoginCode, error)
	// ClaimAttempt counts one verification attempt against the code. It
	// reports false when the code is consumed or already at maxAttempts.
	ClaimAttempt(ctx context.Context, id string, maxAttempts int) (bool, error)
	// ConsumeCode marks the code used and reports false if another
	// verification got there first.
	ConsumeCode(ctx context.Context, id string, at time.Time) (bool, error)

	CreateRefreshToken(ctx context.Context, t RefreshToken) error
	RefreshTokenByHash(ctx context.Context, hash string) (RefreshToken, error)
	// RevokeRefreshToken reports false when the token was already revoked.
	RevokeRefreshToken(ctx context.Context, id string, at time.Time) (bool, error)

	RecordAudit(ctx context.Context, eventType, actorID string, metadata map[string]any) error
}
