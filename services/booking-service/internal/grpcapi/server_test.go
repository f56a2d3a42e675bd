package grpcapi

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/bookwell/bookwell/libs/bookingapi"
	"github.com/bookwell/bookwell/libs/grpcx"
	"github.com/bookwell/bookwell/services/booking-service/internal/availability"
	"github.com/bookwell/bookwell/services/booking-service/internal/booking"
	"github.com/bookwell/bookwell/services/booking-service/internal/model"
	"github.com/bookwell/bookwell/services/booking-service/internal/storage"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeReader struct {
	biz   model.Business
	appts map[string]model.Appointment
}

func (f fakeReader) GetBusiness(_ context.Context, id string) (model.Business, error) {
	if id != f.biz.ID {
		return model.Business{}, storage.ErrNotFound
	}
	return f.biz, nil
}

func (f fakeReader) GetAppointment(_ context.Context, _, id string) (model.Appointment, error) {
	a, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

type fakeSlots struct {
	got booking.SlotQuery
}

func (f *fakeSlots) Slots(_ context.Context, sq booking.SlotQuery) ([]availability.Slot, error) {
	f.got = sq
	if sq.ServiceID == "missing" {
		return nil, booking.ErrServiceNotFound
	}
	return []availability.Slot{{StartTime: "09:00", EndTime: "09:30"}, {StartTime: "09:30", EndTime: "10:00"}}, nil
}

func dialTestServer(t *testing.T, reader Reader, slots SlotLister) *bookingapi.Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lis := bufconn.Listen(1 << 20)
	srv := grpcx.NewServer(logger)
	Register(srv, reader, slots, logger)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpcx.Dial("passthrough:///bufnet", grpcx.DialOptions{}, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return bookingapi.NewClient(conn)
}

func TestGetAppointment(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	reader := fakeReader{
		biz: model.Business{ID: "biz-1", Name: "Studio", ContactEmail: "owner@example.com", Timezone: "UTC"},
		appts: map[string]model.Appointment{"a-1": {
			ID: "a-1", BusinessID: "biz-1", Date: "2026-03-02", StartTime: "09:00", EndTime: "09:30",
			StartAt: start, EndAt: start.Add(30 * time.Minute), Status: model.StatusBooked, Source: model.SourcePublic,
		}},
	}
	client := dialTestServer(t, reader, &fakeSlots{})

	out, err := client.GetAppointment(context.Background(), &bookingapi.GetAppointmentRequest{BusinessID: "biz-1", AppointmentID: "a-1"})
	if err != nil {
		t.Fatalf("GetAppointment failed: %v", err)
	}
	if out.Business.ContactEmail != "owner@example.com" || out.Appointment.Status != "BOOKED" || out.Appointment.StartAt != "2026-03-02T09:00:00Z" {
		t.Fatalf("unexpected reply %+v", out)
	}

	_, err = client.GetAppointment(context.Background(), &bookingapi.GetAppointmentRequest{BusinessID: "biz-1", AppointmentID: "nope"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	_, err = client.GetAppointment(context.Background(), &bookingapi.GetAppointmentRequest{BusinessID: "biz-1"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestListSlots(t *testing.T) {
	slots := &fakeSlots{}
	client := dialTestServer(t, fakeReader{}, slots)

	out, err := client.ListSlots(context.Background(), &bookingapi.ListSlotsRequest{BusinessID: "biz-1", ServiceID: "svc-1", Date: "2026-03-02"})
	if err != nil {
		t.Fatalf("ListSlots failed: %v", err)
	}
	if len(out.Slots) != 2 || out.Slots[1].StartTime != "09:30" {
		t.Fatalf("unexpected slots %+v", out.Slots)
	}
	if slots.got.Cached || slots.got.Date != "2026-03-02" {
		t.Fatalf("unexpected query %+v", slots.got)
	}

	_, err = client.ListSlots(context.Background(), &bookingapi.ListSlotsRequest{BusinessID: "biz-1", ServiceID: "missing", Date: "2026-03-02"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
