// Package otp issues and verifies short numeric one-time codes.
//
// Codes are stored as bcrypt hashes. Single-process callers may write back
// the record mutated by Verify; shared stores should instead claim attempts
// with a conditional update (see Usable and Matches).
package otp

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCode     = errors.New("invalid code")
	ErrCodeExpired     = errors.New("code expired")
	ErrTooManyAttempts = errors.New("too many attempts")
)

type Policy struct {
	TTL         time.Duration
	MaxAttempts int
	Digits      int
	HashCost    int
}

func DefaultPolicy() Policy {
	return Policy{
		TTL:         10 * time.Minute,
		MaxAttempts: 5,
		Digits:      6,
		HashCost:    bcrypt.DefaultCost,
	}
}

// Code is the persisted state of one issued code.
type Code struct {
	Hash       string
	ExpiresAt  time.Time
	Attempts   int
	ConsumedAt *time.Time
}

// Issue generates a fresh code. The plain value goes to the user, the record to storage.
func (p Policy) Issue(now time.Time) (string, Code, error) {
	p = p.withDefaults()
	plain, err := generate(p.Digits)
	if err != nil {
		return "", Code{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), p.HashCost)
	if err != nil {
		return "", Code{}, err
	}
	return plain, Code{Hash: string(hash), ExpiresAt: now.Add(p.TTL)}, nil
}

// Verify checks plain against c and records the attempt on c.
// A consumed code is reported as invalid so it cannot be replayed.
func (p Policy) Verify(c *Code, plain string, now time.Time) error {
	if err := p.Usable(*c, now); err != nil {
		return err
	}
	c.Attempts++
	if !Matches(c.Hash, plain) {
		return ErrInvalidCode
	}
	consumed := now
	c.ConsumedAt = &consumed
	return nil
}

// Usable reports why c can no longer be verified, or nil. Stores that record
// attempts with a conditional update call it before claiming an attempt.
func (p Policy) Usable(c Code, now time.Time) error {
	switch {
	case c.ConsumedAt != nil:
		return ErrInvalidCode
	case !now.Before(c.ExpiresAt):
		return ErrCodeExpired
	case c.Attempts >= p.AttemptLimit():
		return ErrTooManyAttempts
	}
	return nil
}

func (p Policy) AttemptLimit() int {
	return p.withDefaults().MaxAttempts
}

// Matches compares a user supplied code with a stored hash.
func Matches(hash, plain string) bool {
	plain = normalize(plain)
	return plain != "" && bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.TTL <= 0 {
		p.TTL = d.TTL
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Digits <= 0 {
		p.Digits = d.Digits
	}
	if p.HashCost < bcrypt.MinCost {
		p.HashCost = d.HashCost
	}
	return p
}

func generate(digits int) (string, error) {
	var b strings.Builder
	b.Grow(digits)
	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

func normalize(code string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(code))
}
