// Package bookingapi is the internal Appointments gRPC contract served by
// booking-service. Messages travel with the grpcx JSON codec, so the service
// is described by hand instead of generated stubs.
package bookingapi

import (
	"context"

	"github.com/bookwell/bookwell/libs/grpcx"
	"google.golang.org/grpc"
)

const ServiceName = "bookwell.booking.v1.Appointments"

const (
	getAppointmentMethod = "/" + ServiceName + "/GetAppointment"
	listSlotsMethod      = "/" + ServiceName + "/ListSlots"
)

type GetAppointmentRequest struct {
	BusinessID    string `json:"businessId"`
	AppointmentID string `json:"appointmentId"`
}

type Business struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	Timezone     string `json:"timezone"`
	ContactEmail string `json:"contactEmail"`
}

type Appointment struct {
	ID               string `json:"id"`
	BusinessID       string `json:"businessId"`
	Date             string `json:"date"`
	StartTime        string `json:"startTime"`
	EndTime          string `json:"endTime"`
	StartAt          string `json:"startAt"`
	EndAt            string `json:"endAt"`
	ServiceID        string `json:"serviceId"`
	ServiceName      string `json:"serviceName"`
	CustomerID       string `json:"customerId"`
	CustomerFullName string `json:"customerFullName"`
	CustomerPhone    string `json:"customerPhone"`
	CustomerEmail    string `json:"customerEmail"`
	Status           string `json:"status"`
	CancelledBy      string `json:"cancelledBy,omitempty"`
	Notes            string `json:"notes,omitempty"`
	Source           string `json:"source"`
}

type GetAppointmentReply struct {
	Business    Business    `json:"business"`
	Appointment Appointment `json:"appointment"`
}

type ListSlotsRequest struct {
	BusinessID string `json:"businessId"`
	ServiceID  string `json:"serviceId"`
	Date       string `json:"date"`
}

type Slot struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type ListSlotsReply struct {
	Slots []Slot `json:"slots"`
}

// AppointmentsServer is implemented by booking-service.
type AppointmentsServer interface {
	GetAppointment(ctx context.Context, in *GetAppointmentRequest) (*GetAppointmentReply, error)
	ListSlots(ctx context.Context, in *ListSlotsRequest) (*ListSlotsReply, error)
}

var appointmentsDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AppointmentsServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetAppointment",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(GetAppointmentRequest)
				if err := dec(in); err != nil {
					return nil, err
				}
				call := func(ctx context.Context, req any) (any, error) {
					return srv.(AppointmentsServer).GetAppointment(ctx, req.(*GetAppointmentRequest))
				}
				if interceptor == nil {
					return call(ctx, in)
				}
				return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: getAppointmentMethod}, call)
			},
		},
		{
			MethodName: "ListSlots",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(ListSlotsRequest)
				if err := dec(in); err != nil {
					return nil, err
				}
				call := func(ctx context.Context, req any) (any, error) {
					return srv.(AppointmentsServer).ListSlots(ctx, req.(*ListSlotsRequest))
				}
				if interceptor == nil {
					return call(ctx, in)
				}
				return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: listSlotsMethod}, call)
			},
		},
	},
	Metadata: "bookwell/booking/v1/appointments",
}

func RegisterAppointmentsServer(s grpc.ServiceRegistrar, srv AppointmentsServer) {
	s.RegisterService(&appointmentsDesc, srv)
}

// Client calls the Appointments service. The connection should come from
// grpcx.Dial; the JSON content subtype is forced on every call regardless.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetAppointment(ctx context.Context, in *GetAppointmentRequest) (*GetAppointmentReply, error) {
	out := new(GetAppointmentReply)
	if err := c.cc.Invoke(ctx, getAppointmentMethod, in, out, grpc.CallContentSubtype(grpcx.JSONCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListSlots(ctx context.Context, in *ListSlotsRequest) (*ListSlotsReply, error) {
	out := new(ListSlotsReply)
	if err := c.cc.Invoke(ctx, listSlotsMethod, in, out, grpc.CallContentSubtype(grpcx.JSONCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}
