// Package grpcapi serves the internal Appointments API to other services.
package grpcapi

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bookwell/bookwell/libs/bookingapi"
	"github.com/bookwell/bookwell/services/booking-service/internal/availability"
	"github.com/bookwell/bookwell/services/booking-service/internal/booking"
	"github.com/bookwell/bookwell/services/booking-service/internal/model"
	"github.com/bookwell/bookwell/services/booking-service/internal/storage"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Reader interface {
	GetBusiness(ctx context.Context, id string) (model.Business, error)
	GetAppointment(ctx context.Context, businessID, id string) (model.Appointment, error)
}

type SlotLister interface {
	Slots(ctx context.Context, sq booking.SlotQuery) ([]availability.Slot, error)
}

type server struct {
	reader Reader
	slots  SlotLister
	logger *slog.Logger
}

func Register(srv grpc.ServiceRegistrar, reader Reader, slots SlotLister, logger *slog.Logger) {
	bookingapi.RegisterAppointmentsServer(srv, &server{reader: reader, slots: slots, logger: logger})
}

func (s *server) GetAppointment(ctx context.Context, in *bookingapi.GetAppointmentRequest) (*bookingapi.GetAppointmentReply, error) {
	if strings.TrimSpace(in.BusinessID) == "" || strings.TrimSpace(in.AppointmentID) == "" {
		return nil, status.Error(codes.InvalidArgument, "businessId and appointmentId are required")
	}
	b, err := s.reader.GetBusiness(ctx, in.BusinessID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	a, err := s.reader.GetAppointment(ctx, b.ID, in.AppointmentID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return &bookingapi.GetAppointmentReply{
		Business: bookingapi.Business{
			ID:           b.ID,
			Name:         b.Name,
			Slug:         b.Slug,
			Timezone:     b.Timezone,
			ContactEmail: b.ContactEmail,
		},
		Appointment: toAppointment(a),
	}, nil
}

func (s *server) ListSlots(ctx context.Context, in *bookingapi.ListSlotsRequest) (*bookingapi.ListSlotsReply, error) {
	slots, err := s.slots.Slots(ctx, booking.SlotQuery{
		BusinessID: in.BusinessID,
		ServiceID:  in.ServiceID,
		Date:       in.Date,
	})
	if err != nil {
		return nil, s.toStatus(err)
	}
	out := &bookingapi.ListSlotsReply{Slots: make([]bookingapi.Slot, 0, len(slots))}
	for _, sl := range slots {
		out.Slots = append(out.Slots, bookingapi.Slot{StartTime: sl.StartTime, EndTime: sl.EndTime})
	}
	return out, nil
}

func (s *server) toStatus(err error) error {
	var invalid *booking.ValidationError
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, booking.ErrBusinessNotFound),
		errors.Is(err, booking.ErrServiceNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.As(err, &invalid):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	s.logger.Error("grpc call failed", "err", err)
	return status.Error(codes.Internal, "internal error")
}

func toAppointment(a model.Appointment) bookingapi.Appointment {
	return bookingapi.Appointment{
		ID:               a.ID,
		BusinessID:       a.BusinessID,
		Date:             a.Date,
		StartTime:        a.StartTime,
		EndTime:          a.EndTime,
		StartAt:          a.StartAt.UTC().Format(time.RFC3339),
		EndAt:            a.EndAt.UTC().Format(time.RFC3339),
		ServiceID:        a.ServiceID,
		ServiceName:      a.ServiceName,
		CustomerID:       a.CustomerID,
		CustomerFullName: a.CustomerFullName,
		CustomerPhone:    a.CustomerPhone,
		CustomerEmail:    a.CustomerEmail,
		Status:           string(a.Status),
		CancelledBy:      string(a.CancelledBy),
		Notes:            a.Notes,
		Source:           string(a.Source),
	}
}
