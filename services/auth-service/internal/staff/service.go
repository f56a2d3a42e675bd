package staff

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bookwell/bookwell/libs/auth"
	"github.com/bookwell/bookwell/libs/httpx"
	"github.com/bookwell/bookwell/libs/mail"
	"github.com/bookwell/bookwell/libs/otp"
	"github.com/bookwell/bookwell/libs/outbox"
	"github.com/google/uuid"
)

type Config struct {
	Policy     otp.Policy
	RefreshTTL time.Duration
	Now        func() time.Time
}

type Service struct {
	store      Store
	signer     *auth.HS256
	sender     mail.Sender
	limiter    httpx.Limiter
	logger     *slog.Logger
	policy     otp.Policy
	refreshTTL time.Duration
	now        func() time.Time
}

// NewService wires the sign-in flows. limiter may be nil.
func NewService(store Store, signer *auth.HS256, sender mail.Sender, limiter httpx.Limiter, logger *slog.Logger, cfg Config) *Service {
	if cfg.Policy.TTL <= 0 {
		cfg.Policy = otp.DefaultPolicy()
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:      store,
		signer:     signer,
		sender:     sender,
		limiter:    limiter,
		logger:     logger,
		policy:     cfg.Policy,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
	}
}

func (s *Service) CodeTTL() time.Duration {
	return s.policy.TTL
}

type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type Login struct {
	Tokens
	User  User
	IsNew bool
}

func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// SendCode emails a fresh sign-in code. Earlier codes for the address stop
// being checked once a newer one exists.
func (s *Service) SendCode(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, "staff-otp:"+email)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "otp limiter unavailable", "err", err)
		case !ok:
			return ErrRateLimited
		}
	}

	now := s.now().UTC()
	plain, code, err := s.policy.Issue(now)
	if err != nil {
		return err
	}
	if err := s.store.InsertCode(ctx, LoginCode{
		ID:        uuid.NewString(),
		Email:     email,
		Code:      code,
		CreatedAt: now,
	}); err != nil {
		return err
	}

	minutes := int(s.policy.TTL / time.Minute)
	err = s.sender.Send(ctx, mail.Message{
		To:      email,
		Subject: "Your Bookwell sign-in code",
		Body:    fmt.Sprintf("Your sign-in code is %s.\n\nIt expires in %d minutes. If you did not ask for it, ignore this email.\n", plain, minutes),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "staff otp delivery failed", "err", err)
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}

// Verify checks the latest code for email and signs the user in. The first
// successful sign-in creates an owner account with a new business.
func (s *Service) Verify(ctx context.Context, email, code string) (Login, error) {
	email = normalizeEmail(email)
	rec, err := s.store.LatestCode(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return Login{}, otp.ErrInvalidCode
	}
	if err != nil {
		return Login{}, err
	}

	if err := s.checkCode(ctx, rec, code); err != nil {
		return Login{}, err
	}

	user, isNew, err := s.findOrCreate(ctx, email)
	if err != nil {
		return Login{}, err
	}
	tokens, err := s.issue(ctx, user)
	if err != nil {
		return Login{}, err
	}
	s.audit(ctx, "staff.login", user.ID, map[string]any{"new_user": isNew})
	return Login{Tokens: tokens, User: user, IsNew: isNew}, nil
}

// checkCode claims an attempt before comparing so parallel guesses cannot
// exceed the attempt limit, then consumes the code at most once.
func (s *Service) checkCode(ctx context.Context, rec LoginCode, code string) error {
	now := s.now().UTC()
	if err := s.policy.Usable(rec.Code, now); err != nil {
		return err
	}
	claimed, err := s.store.ClaimAttempt(ctx, rec.ID, s.policy.AttemptLimit())
	if err != nil {
		return err
	}
	if !claimed {
		return s.spentReason(ctx, rec)
	}
	if !otp.Matches(rec.Hash, code) {
		return otp.ErrInvalidCode
	}
	consumed, err := s.store.ConsumeCode(ctx, rec.ID, now)
	if err != nil {
		return err
	}
	if !consumed {
		return otp.ErrInvalidCode
	}
	return nil
}

func (s *Service) spentReason(ctx context.Context, rec LoginCode) error {
	cur, err := s.store.LatestCode(ctx, rec.Email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil || cur.ID != rec.ID || cur.ConsumedAt != nil {
		return otp.ErrInvalidCode
	}
	return otp.ErrTooManyAttempts
}

func (s *Service) findOrCreate(ctx context.Context, email string) (User, bool, error) {
	user, err := s.store.UserByEmail(ctx, email)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, false, err
	}

	user = User{
		ID:         uuid.NewString(),
		BusinessID: uuid.NewString(),
		Email:      email,
		Role:       auth.RoleOwner,
		CreatedAt:  s.now().UTC(),
	}
	evt, err := outbox.NewEvent("staff_user", user.ID, EventStaffCreated, map[string]any{
		"user_id":     user.ID,
		"business_id": user.BusinessID,
		"email":       user.Email,
		"role":        user.Role,
		"created_at":  user.CreatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return User{}, false, err
	}
	if err := s.store.CreateUser(ctx, user, evt); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			// Lost a race with a concurrent first sign-in.
			existing, err := s.store.UserByEmail(ctx, email)
			return existing, false, err
		}
		return User{}, false, err
	}
	return user, true, nil
}

// Refresh rotates a refresh token. Each token can be used once.
func (s *Service) Refresh(ctx context.Context, raw string) (Login, error) {
	rec, err := s.store.RefreshTokenByHash(ctx, hashToken(raw))
	if errors.Is(err, ErrNotFound) {
		return Login{}, ErrInvalidRefresh
	}
	if err != nil {
		return Login{}, err
	}
	now := s.now().UTC()
	if rec.RevokedAt != nil || !now.Before(rec.ExpiresAt) {
		return Login{}, ErrInvalidRefresh
	}
	revoked, err := s.store.RevokeRefreshToken(ctx, rec.ID, now)
	if err != nil {
		return Login{}, err
	}
	if !revoked {
		return Login{}, ErrInvalidRefresh
	}

	user, err := s.store.UserByID(ctx, rec.UserID)
	if errors.Is(err, ErrNotFound) {
		return Login{}, ErrInvalidRefresh
	}
	if err != nil {
		return Login{}, err
	}
	tokens, err := s.issue(ctx, user)
	if err != nil {
		return Login{}, err
	}
	return Login{Tokens: tokens, User: user}, nil
}

// Logout revokes raw. Unknown and already revoked tokens are not errors.
func (s *Service) Logout(ctx context.Context, raw string) error {
	rec, err := s.store.RefreshTokenByHash(ctx, hashToken(raw))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.RevokedAt != nil {
		return nil
	}
	if _, err := s.store.RevokeRefreshToken(ctx, rec.ID, s.now().UTC()); err != nil {
		return err
	}
	s.audit(ctx, "staff.logout", rec.UserID, nil)
	return nil
}

// Authenticate verifies an access token and loads its user.
func (s *Service) Authenticate(ctx context.Context, token string) (User, error) {
	claims, err := s.signer.Verify(token)
	if err != nil {
		return User{}, err
	}
	user, err := s.store.UserByID(ctx, claims.UserID())
	if errors.Is(err, ErrNotFound) {
		return User{}, auth.ErrInvalidToken
	}
	return user, err
}

func (s *Service) issue(ctx context.Context, u User) (Tokens, error) {
	access, exp, err := s.signer.Sign(u.ID, u.BusinessID, u.Role, u.Email)
	if err != nil {
		return Tokens{}, err
	}
	raw, err := newRefreshToken()
	if err != nil {
		return Tokens{}, err
	}
	if err := s.store.CreateRefreshToken(ctx, RefreshToken{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		Hash:      hashToken(raw),
		ExpiresAt: s.now().UTC().Add(s.refreshTTL),
	}); err != nil {
		return Tokens{}, err
	}
	return Tokens{AccessToken: access, RefreshToken: raw, ExpiresAt: exp}, nil
}

func (s *Service) audit(ctx context.Context, eventType, actorID string, metadata map[string]any) {
	if err := s.store.RecordAudit(ctx, eventType, actorID, metadata); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", "event", eventType, "err", err)
	}
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}
