package handlers

import (
	"net/http"

	"github.com/bookwell/bookwell/libs/httpx"
	"github.com/bookwell/bookwell/services/booking-service/internal/model"
	"github.com/bookwell/bookwell/services/booking-service/internal/onboarding"
)

type profileResponse struct {
	Business            businessJSON            `json:"business"`
	Services            []serviceJSON           `json:"services"`
	Availability        []model.AvailabilityDay `json:"availability"`
	OnboardingCompleted bool                    `json:"onboardingCompleted"`
}

func toProfileResponse(p onboarding.Profile) profileResponse {
	return profileResponse{
		Business:            toBusinessJSON(p.Business),
		Services:            toServicesJSON(p.Services, false),
		Availability:        nonNilWeek(p.Availability),
		OnboardingCompleted: p.Business.OnboardingCompleted,
	}
}

func (s *Server) getOnboarding(w http.ResponseWriter, r *http.Request) {
	p, err := s.onboarding.Get(r.Context(), businessID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toProfileResponse(p))
}

// onboardingPatchRequest checks the request shape; onboarding.Update owns the
// semantic validation.
type onboardingPatchRequest struct {
	Name         *string                   `json:"name" validate:"omitempty,max=120"`
	Slug         *string                   `json:"slug" validate:"omitempty,max=50"`
	Timezone     *string                   `json:"timezone" validate:"omitempty,tz"`
	Currency     *string                   `json:"currency" validate:"omitempty,len=3"`
	ContactEmail *string                   `json:"contactEmail"`
	Rules        *model.Rules              `json:"rules"`
	Services     []onboarding.ServiceInput `json:"services" validate:"omitempty,max=100"`
	Availability []model.AvailabilityDay   `json:"availability" validate:"omitempty,max=7"`
}

func (s *Server) patchOnboarding(w http.ResponseWriter, r *http.Request) {
	var req onboardingPatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.onboarding.Update(r.Context(), businessID(r), onboarding.Patch{
		Name:         req.Name,
		Slug:         req.Slug,
		Timezone:     req.Timezone,
		Currency:     req.Currency,
		ContactEmail: req.ContactEmail,
		Rules:        req.Rules,
		Services:     req.Services,
		Availability: req.Availability,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toProfileResponse(p))
}

func (s *Server) completeOnboarding(w http.ResponseWriter, r *http.Request) {
	if err := s.onboarding.Complete(r.Context(), businessID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "onboardingCompleted": true})
}
