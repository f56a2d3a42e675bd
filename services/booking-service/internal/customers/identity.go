// Package customers authenticates public-site customers with emailed one-time
// codes and opaque session tokens.
package customers

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bookwell/bookwell/libs/httpx"
	"github.com/bookwell/bookwell/libs/otp"
	"github.com/bookwell/bookwell/services/booking-service/internal/model"
	"github.com/bookwell/bookwell/services/booking-service/internal/storage"
	"github.com/google/uuid"
)

var (
	ErrRateLimited    = errors.New("too many code requests, try again later")
	ErrUnauthorized   = errors.New("sign in required")
	ErrSessionExpired = errors.New("session expired, sign in again")
	ErrEmailTaken     = errors.New("email already used by another customer")
	ErrEmailRequired  = errors.New("email is required")
)

// CodeMailer delivers one-time codes.
type CodeMailer interface {
	OTP(ctx context.Context, b model.Business, to, code, purpose string, validMinutes int) error
}

type Config struct {
	Policy     otp.Policy
	SessionTTL time.Duration
	Now        func() time.Time
}

type Service struct {
	store      storage.Store
	mailer     CodeMailer
	limiter    httpx.Limiter
	logger     *slog.Logger
	policy     otp.Policy
	sessionTTL time.Duration
	now        func() time.Time
}

// NewService wires the identity flows. limiter may be nil to disable code
// request throttling.
func NewService(store storage.Store, mailer CodeMailer, limiter httpx.Limiter, logger *slog.Logger, cfg Config) *Service {
	if cfg.Policy.TTL <= 0 {
		cfg.Policy = otp.DefaultPolicy()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:      store,
		mailer:     mailer,
		limiter:    limiter,
		logger:     logger,
		policy:     cfg.Policy,
		sessionTTL: cfg.SessionTTL,
		now:        cfg.Now,
	}
}

func (s *Service) CodeTTL() time.Duration {
	return s.policy.TTL
}

func (s *Service) SessionTTL() time.Duration {
	return s.sessionTTL
}

// RequestLoginCode emails a fresh LOGIN code, superseding earlier ones.
func (s *Service) RequestLoginCode(ctx context.Context, b model.Business, email string) error {
	email = model.NormalizeEmail(email)
	if email == "" {
		return ErrEmailRequired
	}
	return s.issue(ctx, b, email, storage.PurposeLogin, "")
}

func (s *Service) issue(ctx context.Context, b model.Business, email string, purpose storage.OTPPurpose, customerID string) error {
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, "otp:"+b.ID+":"+email)
		switch {
		case err != nil:
			s.logger.Warn("otp limiter error", "err", err, "business_id", b.ID)
		case !ok:
			return ErrRateLimited
		}
	}

	now := s.now()
	plain, code, err := s.policy.Issue(now)
	if err != nil {
		return fmt.Errorf("issue code: %w", err)
	}
	// Time-ordered ids break created_at ties between codes issued in the same second.
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	rec := storage.OTPRecord{
		ID:         id.String(),
		BusinessID: b.ID,
		Email:      email,
		Purpose:    purpose,
		CustomerID: customerID,
		CodeHash:   code.Hash,
		ExpiresAt:  code.ExpiresAt,
		CreatedAt:  now,
	}
	if err := s.store.InsertCustomerOTP(ctx, rec); err != nil {
		return err
	}
	if s.mailer == nil {
		return errors.New("email is not configured")
	}
	return s.mailer.OTP(ctx, b, email, plain, string(purpose), int(s.policy.TTL/time.Minute))
}

// consume verifies code against the latest record. The attempt and the
// consumption are conditional updates, so concurrent verifies of one code
// cannot exceed the attempt limit or both succeed.
func (s *Service) consume(ctx context.Context, q storage.Queries, businessID, email string, purpose storage.OTPPurpose, plain string) (storage.OTPRecord, error) {
	rec, err := q.LatestCustomerOTP(ctx, businessID, email, purpose)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.OTPRecord{}, otp.ErrInvalidCode
	}
	if err != nil {
		return storage.OTPRecord{}, err
	}

	now := s.now()
	code := otp.Code{Hash: rec.CodeHash, ExpiresAt: rec.ExpiresAt, Attempts: rec.Attempts, ConsumedAt: rec.ConsumedAt}
	if err := s.policy.Usable(code, now); err != nil {
		return rec, err
	}
	claimed, err := q.ClaimCustomerOTPAttempt(ctx, rec.ID, s.policy.AttemptLimit())
	if err != nil {
		return storage.OTPRecord{}, err
	}
	if !claimed {
		return rec, s.spentReason(ctx, q, rec)
	}
	rec.Attempts++
	if !otp.Matches(rec.CodeHash, plain) {
		return rec, otp.ErrInvalidCode
	}
	consumed, err := q.ConsumeCustomerOTP(ctx, rec.ID, now)
	if err != nil {
		return storage.OTPRecord{}, err
	}
	if !consumed {
		return rec, otp.ErrInvalidCode
	}
	rec.ConsumedAt = &now
	return rec, nil
}

// spentReason explains a refused attempt claim: the code was used meanwhile,
// or other requests took the remaining attempts.
func (s *Service) spentReason(ctx context.Context, q storage.Queries, rec storage.OTPRecord) error {
	latest, err := q.LatestCustomerOTP(ctx, rec.BusinessID, rec.Email, rec.Purpose)
	if err == nil && latest.ID == rec.ID && latest.ConsumedAt != nil {
		return otp.ErrInvalidCode
	}
	return otp.ErrTooManyAttempts
}

type LoginResult struct {
	Customer     model.Customer
	SessionToken string
	ExpiresAt    time.Time
	IsNew        bool
}

// VerifyLogin checks a LOGIN code, finds or creates the customer and opens a
// session.
func (s *Service) VerifyLogin(ctx context.Context, b model.Business, email, code string) (LoginResult, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return LoginResult{}, ErrEmailRequired
	}

	var (
		res    LoginResult
		verErr error
	)
	login := func(q storage.Queries) error {
		res, verErr = LoginResult{}, nil
		if _, err := s.consume(ctx, q, b.ID, email, storage.PurposeLogin, code); err != nil {
			// Keep the recorded attempt; report the verification error after commit.
			verErr = err
			return nil
		}

		cust, err := q.FindCustomerByEmail(ctx, b.ID, email)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			cust = model.Customer{
				ID:            uuid.NewString(),
				BusinessID:    b.ID,
				Email:         email,
				Status:        model.CustomerActive,
				EmailVerified: true,
			}
			if err := q.InsertCustomer(ctx, cust); err != nil {
				return err
			}
			res.IsNew = true
		case err != nil:
			return err
		case !cust.EmailVerified:
			cust.EmailVerified = true
			if err := q.UpdateCustomer(ctx, cust); err != nil {
				return err
			}
		}

		token, sess, err := s.newSession(b.ID, cust.ID)
		if err != nil {
			return err
		}
		if err := q.CreateSession(ctx, sess); err != nil {
			return err
		}
		res.Customer = cust
		res.SessionToken = token
		res.ExpiresAt = sess.ExpiresAt
		return nil
	}
	err := s.store.WithTx(ctx, login)
	if errors.Is(err, storage.ErrEmailTaken) {
		// A booking or another login created the customer after our lookup.
		// The rollback also restored the code, so run the login again.
		err = s.store.WithTx(ctx, login)
	}
	if err != nil {
		return LoginResult{}, err
	}
	if verErr != nil {
		return LoginResult{}, verErr
	}
	return res, nil
}

func (s *Service) newSession(businessID, customerID string) (string, storage.Session, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", storage.Session{}, err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	now := s.now()
	return token, storage.Session{
		ID:         uuid.NewString(),
		BusinessID: businessID,
		CustomerID: customerID,
		TokenHash:  HashToken(token),
		ExpiresAt:  now.Add(s.sessionTTL),
		CreatedAt:  now,
	}, nil
}

func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Authenticate resolves a session token for business b.
func (s *Service) Authenticate(ctx context.Context, b model.Business, token string) (storage.Session, model.Customer, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return storage.Session{}, model.Customer{}, ErrUnauthorized
	}
	sess, err := s.store.GetSessionByTokenHash(ctx, HashToken(token))
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Session{}, model.Customer{}, ErrSessionExpired
	}
	if err != nil {
		return storage.Session{}, model.Customer{}, err
	}
	if sess.RevokedAt != nil || !s.now().Before(sess.ExpiresAt) || sess.BusinessID != b.ID {
		return storage.Session{}, model.Customer{}, ErrSessionExpired
	}
	cust, err := s.store.GetCustomer(ctx, b.ID, sess.CustomerID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Session{}, model.Customer{}, ErrSessionExpired
	}
	if err != nil {
		return storage.Session{}, model.Customer{}, err
	}
	return sess, cust, nil
}

// Disconnect revokes the session behind token. Unknown tokens are ignored.
func (s *Service) Disconnect(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	sess, err := s.store.GetSessionByTokenHash(ctx, HashToken(token))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sess.RevokedAt != nil {
		return nil
	}
	return s.store.RevokeSession(ctx, sess.ID, s.now())
}

type ProfileUpdate struct {
	FullName *string
	Phone    *string
	Email    *string
}

// UpdateProfile applies name and phone at once. A different email is only
// recorded as pending: a code is sent to it and VerifyEmailChange applies it.
func (s *Service) UpdateProfile(ctx context.Context, b model.Business, c model.Customer, in ProfileUpdate) (model.Customer, bool, error) {
	updated := c
	if in.FullName != nil {
		updated.FullName = strings.TrimSpace(*in.FullName)
	}
	if in.Phone != nil {
		updated.Phone = strings.TrimSpace(*in.Phone)
	}
	if updated != c {
		if err := s.store.UpdateCustomer(ctx, updated); err != nil {
			return model.Customer{}, false, err
		}
	}

	if in.Email == nil {
		return updated, false, nil
	}
	email := model.NormalizeEmail(*in.Email)
	if email == "" || email == c.Email {
		return updated, false, nil
	}
	other, err := s.store.FindCustomerByEmail(ctx, b.ID, email)
	switch {
	case err == nil && other.ID != c.ID:
		return model.Customer{}, false, ErrEmailTaken
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return model.Customer{}, false, err
	}
	if err := s.issue(ctx, b, email, storage.PurposeEmailChange, c.ID); err != nil {
		return model.Customer{}, false, err
	}
	return updated, true, nil
}

// VerifyEmailChange applies a pending email once its code checks out.
func (s *Service) VerifyEmailChange(ctx context.Context, b model.Business, c model.Customer, email, code string) (model.Customer, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return model.Customer{}, ErrEmailRequired
	}

	var (
		out    model.Customer
		verErr error
	)
	err := s.store.WithTx(ctx, func(q storage.Queries) error {
		rec, err := s.consume(ctx, q, b.ID, email, storage.PurposeEmailChange, code)
		if err == nil && rec.CustomerID != c.ID {
			err = otp.ErrInvalidCode
		}
		if err != nil {
			verErr = err
			return nil
		}

		cur, err := q.GetCustomer(ctx, b.ID, c.ID)
		if err != nil {
			return err
		}
		cur.Email = email
		cur.EmailVerified = true
		if err := q.UpdateCustomer(ctx, cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if errors.Is(err, storage.ErrEmailTaken) {
		return model.Customer{}, ErrEmailTaken
	}
	if err != nil {
		return model.Customer{}, err
	}
	if verErr != nil {
		return model.Customer{}, verErr
	}
	return out, nil
}

type Scope string

const (
	ScopeUpcoming Scope = "upcoming"
	ScopePast     Scope = "past"
	ScopeAll      Scope = "all"
)

func ParseScope(raw string) (Scope, bool) {
	switch s := Scope(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return ScopeUpcoming, true
	case ScopeUpcoming, ScopePast, ScopeAll:
		return s, true
	}
	return "", false
}

// Appointments lists a customer's appointments. Upcoming ones are BOOKED and
// incoming, soonest first; past ones are everything else, latest first.
func (s *Service) Appointments(ctx context.Context, businessID, customerID string, scope Scope) ([]model.Appointment, error) {
	all, err := s.store.ListCustomerAppointments(ctx, businessID, customerID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]model.Appointment, 0, len(all))
	for _, a := range all {
		upcoming := a.Status == model.StatusBooked && a.Incoming(now)
		switch {
		case scope == ScopeAll,
			scope == ScopeUpcoming && upcoming,
			scope == ScopePast && !upcoming:
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if scope == ScopeUpcoming {
			return out[i].StartAt.Before(out[j].StartAt)
		}
		return out[i].StartAt.After(out[j].StartAt)
	})
	return out, nil
}
