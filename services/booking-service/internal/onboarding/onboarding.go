// Package onboarding manages a business profile: settings, services and the
// weekly availability the slot engine works from.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bookwell/bookwell/services/booking-service/internal/model"
	"github.com/bookwell/bookwell/services/booking-service/internal/storage"
	"github.com/google/uuid"
)

var (
	ErrSlugTaken       = errors.New("slug is already taken")
	ErrServiceInUse    = errors.New("service duration cannot change once it has appointments")
	ErrServiceNotFound = errors.New("service not found")
)

// ValidationError reports invalid fields of a patch.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return "invalid onboarding data"
}

// IncompleteError lists what is missing before a business can go live.
type IncompleteError struct {
	Missing []string
}

func (e *IncompleteError) Error() string {
	return "onboarding incomplete: " + strings.Join(e.Missing, ", ")
}

const maxServiceMinutes = 12 * 60

var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{1,48}[a-z0-9])$`)

type Profile struct {
	Business     model.Business
	Services     []model.Service
	Availability []model.AvailabilityDay
}

type ServiceInput struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"durationMinutes"`
	Price           int64  `json:"price"`
	IsActive        *bool  `json:"isActive"`
}

// Patch carries the fields to change. Nil fields are left alone; a non-nil
// Services list is the complete desired list.
type Patch struct {
	Name         *string                 `json:"name"`
	Slug         *string                 `json:"slug"`
	Timezone     *string                 `json:"timezone"`
	Currency     *string                 `json:"currency"`
	ContactEmail *string                 `json:"contactEmail"`
	Rules        *model.Rules            `json:"rules"`
	Services     []ServiceInput          `json:"services"`
	Availability []model.AvailabilityDay `json:"availability"`
}

type Service struct {
	store storage.Store
}

func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// DefaultWeek is Monday to Friday, 09:00-17:00.
func DefaultWeek() []model.AvailabilityDay {
	week := make([]model.AvailabilityDay, 7)
	for d := range week {
		week[d] = model.AvailabilityDay{Day: d, Windows: []model.Window{}}
		if d >= int(time.Monday) && d <= int(time.Friday) {
			week[d].Enabled = true
			week[d].Windows = []model.Window{{Start: "09:00", End: "17:00"}}
		}
	}
	return week
}

func newPublicID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Get returns the profile, creating it with defaults on first access.
func (s *Service) Get(ctx context.Context, businessID string) (Profile, error) {
	b, _, err := s.store.CreateBusinessIfMissing(ctx, model.Business{
		ID:       businessID,
		PublicID: newPublicID(),
		Timezone: "UTC",
		Currency: "USD",
	}, DefaultWeek())
	if err != nil {
		return Profile{}, err
	}
	return load(ctx, s.store, b)
}

func load(ctx context.Context, q storage.Queries, b model.Business) (Profile, error) {
	services, err := q.ListServices(ctx, b.ID, false)
	if err != nil {
		return Profile{}, err
	}
	week, err := q.ListAvailability(ctx, b.ID)
	if err != nil {
		return Profile{}, err
	}
	if services == nil {
		services = []model.Service{}
	}
	return Profile{Business: b, Services: services, Availability: week}, nil
}

// Update validates and applies p atomically.
func (s *Service) Update(ctx context.Context, businessID string, p Patch) (Profile, error) {
	if _, err := s.Get(ctx, businessID); err != nil {
		return Profile{}, err
	}
	if err := validate(p); err != nil {
		return Profile{}, err
	}

	var out Profile
	err := s.store.WithTx(ctx, func(q storage.Queries) error {
		if err := q.LockBusiness(ctx, businessID); err != nil {
			return err
		}
		b, err := q.GetBusiness(ctx, businessID)
		if err != nil {
			return err
		}
		applySettings(&b, p)

		if p.Services != nil {
			if err := syncServices(ctx, q, b.ID, p.Services); err != nil {
				return err
			}
		}
		if p.Availability != nil {
			if err := q.ReplaceAvailability(ctx, b.ID, normalizeWeek(p.Availability)); err != nil {
				return err
			}
		}
		// Any change invalidates cached slots through the config version.
		b, err = q.UpdateBusiness(ctx, b)
		if err != nil {
			return err
		}
		out, err = load(ctx, q, b)
		return err
	})
	if errors.Is(err, storage.ErrSlugTaken) {
		return Profile{}, ErrSlugTaken
	}
	if err != nil {
		return Profile{}, err
	}
	return out, nil
}

func applySettings(b *model.Business, p Patch) {
	if p.Name != nil {
		b.Name = strings.TrimSpace(*p.Name)
	}
	if p.Slug != nil {
		b.Slug = normalizeSlug(*p.Slug)
	}
	if p.Timezone != nil {
		b.Timezone = strings.TrimSpace(*p.Timezone)
	}
	if p.Currency != nil {
		b.Currency = strings.ToUpper(strings.TrimSpace(*p.Currency))
	}
	if p.ContactEmail != nil {
		b.ContactEmail = model.NormalizeEmail(*p.ContactEmail)
	}
	if p.Rules != nil {
		b.Rules = *p.Rules
	}
}

func normalizeSlug(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func syncServices(ctx context.Context, q storage.Queries, businessID string, desired []ServiceInput) error {
	current, err := q.ListServices(ctx, businessID, false)
	if err != nil {
		return err
	}
	byID := make(map[string]model.Service, len(current))
	for _, svc := range current {
		byID[svc.ID] = svc
	}

	kept := make(map[string]bool, len(desired))
	for i, in := range desired {
		active := in.IsActive == nil || *in.IsActive
		if in.ID == "" {
			svc := model.Service{
				ID:              uuid.NewString(),
				BusinessID:      businessID,
				Name:            strings.TrimSpace(in.Name),
				DurationMinutes: in.DurationMinutes,
				Price:           in.Price,
				IsActive:        active,
				Position:        i,
			}
			if err := q.InsertService(ctx, svc); err != nil {
				return err
			}
			continue
		}

		svc, ok := byID[in.ID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrServiceNotFound, in.ID)
		}
		kept[in.ID] = true
		if svc.DurationMinutes != in.DurationMinutes {
			used, err := q.ServiceHasAppointments(ctx, businessID, svc.ID)
			if err != nil {
				return err
			}
			if used {
				return ErrServiceInUse
			}
		}
		svc.Name = strings.TrimSpace(in.Name)
		svc.DurationMinutes = in.DurationMinutes
		svc.Price = in.Price
		svc.IsActive = active
		svc.Position = i
		if err := q.UpdateService(ctx, svc); err != nil {
			return err
		}
	}

	for _, svc := range current {
		if kept[svc.ID] || !svc.IsActive {
			continue
		}
		svc.IsActive = false
		if err := q.UpdateService(ctx, svc); err != nil {
			return err
		}
	}
	return nil
}

// normalizeWeek returns seven days ordered Sunday first; days not given are
// disabled.
func normalizeWeek(days []model.AvailabilityDay) []model.AvailabilityDay {
	week := make([]model.AvailabilityDay, 7)
	for d := range week {
		week[d] = model.AvailabilityDay{Day: d, Windows: []model.Window{}}
	}
	for _, d := range days {
		windows := append([]model.Window(nil), d.Windows...)
		sort.Slice(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })
		if windows == nil {
			windows = []model.Window{}
		}
		week[d.Day] = model.AvailabilityDay{Day: d.Day, Enabled: d.Enabled, Windows: windows}
	}
	return week
}

func validate(p Patch) error {
	fields := map[string]string{}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		fields["name"] = "must not be empty"
	}
	if p.Slug != nil && !slugPattern.MatchString(normalizeSlug(*p.Slug)) {
		fields["slug"] = "3-50 characters: lowercase letters, digits and inner dashes"
	}
	if p.Timezone != nil {
		if !isZone(strings.TrimSpace(*p.Timezone)) {
			fields["timezone"] = "unknown IANA time zone"
		}
	}
	if p.Currency != nil && !isCurrency(strings.ToUpper(strings.TrimSpace(*p.Currency))) {
		fields["currency"] = "must be a 3-letter ISO 4217 code"
	}
	if p.ContactEmail != nil {
		if e := strings.TrimSpace(*p.ContactEmail); e != "" && !strings.Contains(e, "@") {
			fields["contactEmail"] = "invalid email"
		}
	}

	seenIDs := map[string]bool{}
	for i, svc := range p.Services {
		key := fmt.Sprintf("services[%d]", i)
		switch {
		case strings.TrimSpace(svc.Name) == "":
			fields[key+".name"] = "must not be empty"
		case svc.DurationMinutes <= 0 || svc.DurationMinutes > maxServiceMinutes:
			fields[key+".durationMinutes"] = fmt.Sprintf("must be between 1 and %d", maxServiceMinutes)
		case svc.Price < 0:
			fields[key+".price"] = "must not be negative"
		case svc.ID != "" && seenIDs[svc.ID]:
			fields[key+".id"] = "duplicate service"
		}
		if svc.ID != "" {
			seenIDs[svc.ID] = true
		}
	}

	seenDays := map[int]bool{}
	for i, d := range p.Availability {
		key := fmt.Sprintf("availability[%d]", i)
		if d.Day < 0 || d.Day > 6 {
			fields[key+".day"] = "must be 0 (Sunday) to 6 (Saturday)"
			continue
		}
		if seenDays[d.Day] {
			fields[key+".day"] = "duplicate day"
			continue
		}
		seenDays[d.Day] = true
		if msg := validateWindows(d.Windows); msg != "" {
			fields[key+".windows"] = msg
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// validateWindows checks HH:mm bounds, start < end and that windows do not
// overlap once sorted.
func validateWindows(windows []model.Window) string {
	type span struct{ start, end int }
	spans := make([]span, 0, len(windows))
	for _, w := range windows {
		start, err := model.ParseClock(w.Start, false)
		if err != nil {
			return "start must be HH:mm"
		}
		end, err := model.ParseClock(w.End, true)
		if err != nil {
			return "end must be HH:mm or 24:00"
		}
		if start >= end {
			return "start must be before end"
		}
		spans = append(spans, span{start, end})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return "windows must not overlap"
		}
	}
	return ""
}

func isZone(name string) bool {
	if name == "" || name == "Local" {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

func isCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Complete marks onboarding as done once the business can take bookings.
func (s *Service) Complete(ctx context.Context, businessID string) error {
	p, err := s.Get(ctx, businessID)
	if err != nil {
		return err
	}
	var missing []string
	if strings.TrimSpace(p.Business.Name) == "" {
		missing = append(missing, "name")
	}
	if p.Business.Slug == "" {
		missing = append(missing, "slug")
	}
	hasService := false
	for _, svc := range p.Services {
		if svc.IsActive {
			hasService = true
			break
		}
	}
	if !hasService {
		missing = append(missing, "services")
	}
	hasDay := false
	for _, d := range p.Availability {
		if d.Enabled && len(d.Windows) > 0 {
			hasDay = true
			break
		}
	}
	if !hasDay {
		missing = append(missing, "availability")
	}
	if len(missing) > 0 {
		return &IncompleteError{Missing: missing}
	}
	if p.Business.OnboardingCompleted {
		return nil
	}

	return s.store.WithTx(ctx, func(q storage.Queries) error {
		if err := q.LockBusiness(ctx, businessID); err != nil {
			return err
		}
		b, err := q.GetBusiness(ctx, businessID)
		if err != nil {
			return err
		}
		b.OnboardingCompleted = true
		_, err = q.UpdateBusiness(ctx, b)
		return err
	})
}
