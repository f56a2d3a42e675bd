package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bookwell/bookwell/services/booking-service/internal/model"
	"github.com/bookwell/bookwell/services/booking-service/internal/onboarding"
	"gopkg.in/yaml.v3"
)

type Fixtures struct {
	Businesses []BusinessFixture `yaml:"businesses"`
}

type BusinessFixture struct {
	ID           string           `yaml:"id"`
	Name         string           `yaml:"name"`
	Slug         string           `yaml:"slug"`
	Timezone     string           `yaml:"timezone"`
	Currency     string           `yaml:"currency"`
	ContactEmail string           `yaml:"contactEmail"`
	Rules        RulesFixture     `yaml:"rules"`
	Services     []ServiceFixture `yaml:"services"`
	Availability []DayFixture     `yaml:"availability"`
	Complete     bool             `yaml:"complete"`
}

type RulesFixture struct {
	OneUpcoming          bool `yaml:"limitCustomerToOneUpcomingAppointment"`
	NoSameServiceSameDay bool `yaml:"preventSameServiceSameDay"`
}

type ServiceFixture struct {
	Name            string `yaml:"name"`
	DurationMinutes int    `yaml:"durationMinutes"`
	Price           int64  `yaml:"price"`
	Inactive        bool   `yaml:"inactive"`
}

// DayFixture names the weekday ("mon", "tuesday") and lists "HH:mm-HH:mm"
// windows.
type DayFixture struct {
	Day     string   `yaml:"day"`
	Windows []string `yaml:"windows"`
}

func parseFixtures(data []byte) (Fixtures, error) {
	var fx Fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return Fixtures{}, fmt.Errorf("parse fixtures: %w", err)
	}
	if len(fx.Businesses) == 0 {
		return Fixtures{}, fmt.Errorf("no businesses in fixtures")
	}
	for i, b := range fx.Businesses {
		if strings.TrimSpace(b.ID) == "" {
			return Fixtures{}, fmt.Errorf("business #%d: id is required", i+1)
		}
	}
	return fx, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseWeekday(raw string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if len(key) >= 3 {
		if d, ok := weekdays[key[:3]]; ok {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", raw)
}

func (b BusinessFixture) week() ([]model.AvailabilityDay, error) {
	if len(b.Availability) == 0 {
		return nil, nil
	}
	week := make([]model.AvailabilityDay, 0, len(b.Availability))
	for _, d := range b.Availability {
		wd, err := parseWeekday(d.Day)
		if err != nil {
			return nil, err
		}
		day := model.AvailabilityDay{Day: int(wd), Enabled: len(d.Windows) > 0, Windows: []model.Window{}}
		for _, w := range d.Windows {
			start, end, ok := strings.Cut(w, "-")
			if !ok {
				return nil, fmt.Errorf("%s: window %q must look like 09:00-12:00", d.Day, w)
			}
			day.Windows = append(day.Windows, model.Window{Start: strings.TrimSpace(start), End: strings.TrimSpace(end)})
		}
		week = append(week, day)
	}
	return week, nil
}

type Summary struct {
	Businesses int
	Services   int
	Completed  int
}

// Seed applies every fixture through the onboarding flow. Services are
// matched by name so reruns update rows in place.
func Seed(ctx context.Context, svc *onboarding.Service, fx Fixtures) (Summary, error) {
	var sum Summary
	for _, b := range fx.Businesses {
		current, err := svc.Get(ctx, b.ID)
		if err != nil {
			return sum, fmt.Errorf("%s: %w", b.ID, err)
		}
		existing := make(map[string]string, len(current.Services))
		for _, s := range current.Services {
			existing[strings.ToLower(s.Name)] = s.ID
		}

		week, err := b.week()
		if err != nil {
			return sum, fmt.Errorf("%s: %w", b.ID, err)
		}
		patch := onboarding.Patch{
			Rules: &model.Rules{
				LimitCustomerToOneUpcomingAppointment: b.Rules.OneUpcoming,
				PreventSameServiceSameDay:             b.Rules.NoSameServiceSameDay,
			},
			Availability: week,
		}
		setString(&patch.Name, b.Name)
		setString(&patch.Slug, b.Slug)
		setString(&patch.Timezone, b.Timezone)
		setString(&patch.Currency, b.Currency)
		setString(&patch.ContactEmail, b.ContactEmail)
		if len(b.Services) > 0 {
			patch.Services = make([]onboarding.ServiceInput, 0, len(b.Services))
			for _, s := range b.Services {
				active := !s.Inactive
				patch.Services = append(patch.Services, onboarding.ServiceInput{
					ID:              existing[strings.ToLower(strings.TrimSpace(s.Name))],
					Name:            s.Name,
					DurationMinutes: s.DurationMinutes,
					Price:           s.Price,
					IsActive:        &active,
				})
			}
		}

		if _, err := svc.Update(ctx, b.ID, patch); err != nil {
			return sum, fmt.Errorf("%s: %w", b.ID, err)
		}
		sum.Businesses++
		sum.Services += len(b.Services)

		if b.Complete {
			if err := svc.Complete(ctx, b.ID); err != nil {
				return sum, fmt.Errorf("%s: complete: %w", b.ID, err)
			}
			sum.Completed++
		}
	}
	return sum, nil
}

func setString(dst **string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = &v
	}
}
