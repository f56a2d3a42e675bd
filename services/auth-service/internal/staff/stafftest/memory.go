// Package stafftest provides in-memory doubles for staff tests.
package stafftest

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/bookwell/bookwell/libs/mail"
	"github.com/bookwell/bookwell/libs/outbox"
	"github.com/bookwell/bookwell/services/auth-service/internal/staff"
)

type Store struct {
	mu     sync.Mutex
	users  map[string]staff.User
	codes  []staff.LoginCode
	tokens map[string]staff.RefreshToken
	Events []outbox.Event
	Audits []string
}

func NewStore() *Store {
	return &Store{
		users:  map[string]staff.User{},
		tokens: map[string]staff.RefreshToken{},
	}
}

func (s *Store) UserByEmail(_ context.Context, email string) (staff.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return staff.User{}, staff.ErrNotFound
}

func (s *Store) UserByID(_ context.Context, id string) (staff.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return staff.User{}, staff.ErrNotFound
	}
	return u, nil
}

func (s *Store) CreateUser(_ context.Context, u staff.User, evt outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return staff.ErrEmailTaken
		}
	}
	s.users[u.ID] = u
	s.Events = append(s.Events, evt)
	return nil
}

func (s *Store) InsertCode(_ context.Context, c staff.LoginCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes = append(s.codes, c)
	return nil
}

func (s *Store) LatestCode(_ context.Context, email string) (staff.LoginCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.codes) - 1; i >= 0; i-- {
		if s.codes[i].Email == email {
			return s.codes[i], nil
		}
	}
	return staff.LoginCode{}, staff.ErrNotFound
}

func (s *Store) ClaimAttempt(_ context.Context, id string, maxAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.codes {
		if s.codes[i].ID != id {
			continue
		}
		if s.codes[i].ConsumedAt != nil || s.codes[i].Attempts >= maxAttempts {
			return false, nil
		}
		s.codes[i].Attempts++
		return true, nil
	}
	return false, nil
}

func (s *Store) ConsumeCode(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.codes {
		if s.codes[i].ID != id {
			continue
		}
		if s.codes[i].ConsumedAt != nil {
			return false, nil
		}
		consumed := at
		s.codes[i].ConsumedAt = &consumed
		return true, nil
	}
	return false, nil
}

func (s *Store) CreateRefreshToken(_ context.Context, t staff.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.Hash] = t
	return nil
}

func (s *Store) RefreshTokenByHash(_ context.Context, hash string) (staff.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[hash]
	if !ok {
		return staff.RefreshToken{}, staff.ErrNotFound
	}
	return t, nil
}

func (s *Store) RevokeRefreshToken(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, t := range s.tokens {
		if t.ID != id {
			continue
		}
		if t.RevokedAt != nil {
			return false, nil
		}
		t.RevokedAt = &at
		s.tokens[hash] = t
		return true, nil
	}
	return false, nil
}

func (s *Store) RecordAudit(_ context.Context, eventType, _ string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Audits = append(s.Audits, eventType)
	return nil
}

var codePattern = regexp.MustCompile(`code is (\d+)`)

// Outbox records sent mail. Err, when set, fails every send.
type Outbox struct {
	mu   sync.Mutex
	Sent []mail.Message
	Err  error
}

func (o *Outbox) Send(_ context.Context, msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	o.Sent = append(o.Sent, msg)
	return nil
}

// LastCode returns the code from the most recent message to email.
func (o *Outbox) LastCode(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.Sent) - 1; i >= 0; i-- {
		if o.Sent[i].To != email {
			continue
		}
		if m := codePattern.FindStringSubmatch(o.Sent[i].Body); m != nil {
			return m[1]
		}
	}
	return ""
}
