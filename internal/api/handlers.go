package api

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"

	"rentmarket/internal/domain"
	"rentmarket/internal/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const reservationServiceName = "rentmarket.v1.ReservationService"

// grpcMethod describes one unary RPC. Requests and responses are
// google.protobuf.Struct with the same field names as the HTTP JSON bodies.
type grpcMethod struct {
	perm  string
	write bool
	call  func(s *ReservationService, ctx context.Context, actor models.Actor, req *structpb.Struct) (any, error)
}

var grpcMethods = map[string]grpcMethod{
	"GetItem":     {permReadItems, false, (*ReservationService).getItem},
	"ListItems":   {permReadItems, false, (*ReservationService).listItems},
	"PublishItem": {permWriteItems, true, (*ReservationService).publishItem},
	"RetireItem":  {permWriteItems, true, (*ReservationService).retireItem},

	"CreateReservation":       {permWriteReservations, true, (*ReservationService).createReservation},
	"GetReservation":          {permReadReservations, false, (*ReservationService).getReservation},
	"AcceptReservation":       {permWriteReservations, true, (*ReservationService).acceptReservation},
	"RejectReservation":       {permWriteReservations, true, (*ReservationService).rejectReservation},
	"CancelReservation":       {permWriteReservations, true, (*ReservationService).cancelReservation},
	"CompleteReservation":     {permWriteReservations, true, (*ReservationService).completeReservation},
	"ListReservations":        {permReadReservations, false, (*ReservationService).listReservations},
	"ListPendingReservations": {permReadReservations, false, (*ReservationService).listPending},

	"ComputeAmount":  {permReadPayments, false, (*ReservationService).computeAmount},
	"ProcessPayment": {permWritePayments, true, (*ReservationService).processPayment},

	"CreateReview":    {permWriteReviews, true, (*ReservationService).createReview},
	"ReportIncident":  {permWriteIncidents, true, (*ReservationService).reportIncident},
	"AdvanceIncident": {permWriteIncidents, true, (*ReservationService).advanceIncident},
}

func fullMethod(name string) string {
	return "/" + reservationServiceName + "/" + name
}

func methodName(full string) string {
	name, ok := strings.CutPrefix(full, "/"+reservationServiceName+"/")
	if !ok {
		return ""
	}
	return name
}

func requiredPermission(full string) string {
	return grpcMethods[methodName(full)].perm
}

func isWriteMethod(full string) bool {
	return grpcMethods[methodName(full)].write
}

// reservationServer is the handler type registered with grpc.
type reservationServer interface {
	invoke(ctx context.Context, name string, req *structpb.Struct) (*structpb.Struct, error)
}

// ReservationService adapts the booking services to gRPC.
type ReservationService struct {
	svc Services
}

func NewReservationService(svc Services) *ReservationService {
	return &ReservationService{svc: svc}
}

// ServiceDesc builds the descriptor; methods are sorted for stable reflection
// output.
func ServiceDesc() grpc.ServiceDesc {
	names := make([]string, 0, len(grpcMethods))
	for name := range grpcMethods {
		names = append(names, name)
	}
	sort.Strings(names)

	desc := grpc.ServiceDesc{
		ServiceName: reservationServiceName,
		HandlerType: (*reservationServer)(nil),
		Metadata:    "rentmarket/v1/reservation.proto",
	}
	for _, name := range names {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{MethodName: name, Handler: unaryHandler(name)})
	}
	return desc
}

func unaryHandler(name string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return srv.(reservationServer).invoke(ctx, name, req.(*structpb.Struct))
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
		return interceptor(ctx, in, info, handler)
	}
}

func (s *ReservationService) invoke(ctx context.Context, name string, req *structpb.Struct) (*structpb.Struct, error) {
	m, ok := grpcMethods[name]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "method %s not implemented", name)
	}
	actor, ok := actorFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, errUnauthenticated.Error())
	}
	out, err := m.call(s, ctx, actor, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(out)
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// idField reads a positive integer; Struct numbers arrive as float64.
func idField(req *structpb.Struct, name string) (int64, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, domain.Validationf("%s is required", name)
	}
	n, err := numberValue(v, name)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, domain.Validationf("%s must be positive", name)
	}
	return n, nil
}

func optionalInt(req *structpb.Struct, name string) (int64, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, nil
	}
	return numberValue(v, name)
}

func numberValue(v *structpb.Value, name string) (int64, error) {
	if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
		return 0, domain.Validationf("%s must be a number", name)
	}
	f := v.GetNumberValue()
	if f != math.Trunc(f) || f < 0 || f > math.MaxInt64 {
		return 0, domain.Validationf("%s must be a non-negative integer", name)
	}
	return int64(f), nil
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func (s *ReservationService) getItem(ctx context.Context, _ models.Actor, req *structpb.Struct) (any, error) {
	id, err := idField(req, "item_id")
	if err != nil {
		return nil, err
	}
	item, err := s.svc.Items.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{"item": item}, nil
}

func (s *ReservationService) listItems(ctx context.Context, _ models.Actor, req *structpb.Struct) (any, error) {
	var filter models.ItemFilter
	var err error
	if filter.CategoryID, err = optionalInt(req, "category_id"); err != nil {
		return nil, err
	}
	if filter.OwnerID, err = optionalInt(req, "owner_id"); err != nil {
		return nil, err
	}
	limit, err := optionalInt(req, "limit")
	if err != nil {
		return nil, err
	}
	offset, err := optionalInt(req, "offset")
	if err != nil {
		return nil, err
	}
	filter.Limit, filter.Offset = int(limit), int(offset)
	if v, ok := req.GetFields()["published"]; ok {
		published := v.GetBoolValue()
		filter.Published = &published
	}
	filter.Availability = models.AvailabilityState(stringField(req, "availability"))

	items, err := s.svc.Items.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return map[string]any{"items": items}, nil
}

func (s *ReservationService) publishItem(ctx context.Context, actor models.Actor, req *structpb.Struct) (any, error) {
	return s.itemCall(ctx, actor, req, s.svc.Items.Publish)
}

func (s *ReservationService) retireItem(ctx context.Context, actor models.Actor, req *structpb.Struct) (any, error) {
	return s.itemCall(ctx, actor, req, s.svc.Items.Retire)
}

func (s *ReservationService) itemCall(ctx context.Context, actor models.Actor, req *structpb.Struct,
	fn func(context.Context, models.Actor, int64) (*models.Item, error),
) (any, error) {
	id, err := idField(req, "item_id")
	if err != nil {
		return nil, err
	}
	item, err := fn(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{"item": item}, nil
}

func (s *ReservationService) createReservation(ctx context.Context, actor models.Actor, req *structpb.Struct) (any, error) {
	itemID, err := idField(req, "item_id")
	if err != nil {
		return nil, err
	}
	start, end, err := parseDates(stringField(req, "start_date"), stringField(req, "end_date"))
	if err != nil {
		return nil, err
	}
	r, err := s.svc.Reservations.Create(ctx, actor, itemID, start, end)
	if err != nil {
		return nil, err
	}
	return map[string]any{"reservation": r}, nil
}

func (s *ReservationService) getReservation(ctx context.Context, actor models.Actor, req *structpb.Struct) (any, error) {
	return s.reservationCall(ctx, actor, req, s.svc.Reservations.Get)
}

func (s *ReservationService) acceptReservation(ctx context.Context, actor models.Actor, req *structpb.Struct) (any, error) {
	return s.reservationCall(ctx, actor, req, s.svc.Reservations.Accept)
}

func (s *ReservationService) rejectReservation(ctx context.Context, actor models.Actor, req *structpb.Struct) (any, error) {
	return s.reservationCall(ctx, actor, req, s.svc.Reservations.Reject)
}

func (s *ReservationService) cancelReservation(ctx context.Context, actor models.Actor, req *structpb.Struct) (any, error) {
	return s.reservationCall(ctx, actor, req, s.svc.Reservations.Cancel)
}

func (s *ReservationService) completeReservation(ctx context.Context, actor models.Actor, req *structpb.Struct) (any, error) {
	return s.reservationCall(ctx, actor, req, s.svc.Reservations.Complete)
}

func (s *ReservationService) reservationCall(ctx context.Context, actor models.Actor, req *structpb.Struct,
	fn func(context.Context, models.Actor, int64) (*models.Reservation, error),
) (any, error) {
	id, err := idField(req, "reservation_id")
	if err != nil {
		return nil, err
	}
	r, err := fn(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{"reservation": r}, nil
}

func (s *ReservationService) listReservations(ctx context.Context, actor models.Actor, req *structpb.Struct) (any, error) {
	if _, ok := req.GetFields()["item_id"]; ok {
		itemID, err := idField(req, "item_id")
		if err != nil {
			return nil, err
		}
		list, err := s.svc.Reservations.ListByItem(ctx, actor, itemID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"reservations": list}, nil
	}

	renterID, err := optionalInt(req, "renter_id")
	if err != nil {
		return nil, err
	}
	list, err := s.svc.Reservations.ListByRenter(ctx, actor, renterID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"reservations": list}, nil
}

func (s *ReservationService) listPending(ctx context.Context, actor models.Actor, _ *structpb.Struct) (any, error) {
	list, err := s.svc.Reservations.ListPendingForOwner(ctx, actor)
	if err != nil {
		return nil, err
	}
	return map[string]any{"reservations": list}, nil
}

func (s *ReservationService) computeAmount(ctx context.Context, actor models.Actor, req *structpb.Struct) (any, error) {
	id, err := idField(req, "reservation_id")
	if err != nil {
		return nil, err
	}
	if _, err := s.svc.Reservations.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	amount, err := s.svc.Payments.ComputeAmount(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{"reservation_id": id, "amount_cents": amount}, nil
}

func (s *ReservationService) processPayment(ctx context.Context, actor models.Actor, req *structpb.Struct) (any, error) {
	id, err := idField(req, "reservation_id")
	if err != nil {
		return nil, err
	}
	p, err := s.svc.Payments.ProcessPayment(ctx, actor, id, stringField(req, "method"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"payment": p}, nil
}

func (s *ReservationService) createReview(ctx context.Context, actor models.Actor, req *structpb.Struct) (any, error) {
	itemID, err := idField(req, "item_id")
	if err != nil {
		return nil, err
	}
	rating, err := optionalInt(req, "rating")
	if err != nil {
		return nil, err
	}
	review, err := s.svc.PostRental.CreateReview(ctx, actor, itemID, int(rating), stringField(req, "comment"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"review": review}, nil
}

func (s *ReservationService) reportIncident(ctx context.Context, actor models.Actor, req *structpb.Struct) (any, error) {
	id, err := idField(req, "reservation_id")
	if err != nil {
		return nil, err
	}
	incident, err := s.svc.PostRental.ReportIncident(ctx, actor, id, stringField(req, "description"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"incident": incident}, nil
}

func (s *ReservationService) advanceIncident(ctx context.Context, actor models.Actor, req *structpb.Struct) (any, error) {
	id, err := idField(req, "incident_id")
	if err != nil {
		return nil, err
	}
	to := models.IncidentState(strings.TrimSpace(stringField(req, "state")))
	incident, err := s.svc.PostRental.AdvanceIncident(ctx, actor, id, to)
	if err != nil {
		return nil, err
	}
	return map[string]any{"incident": incident}, nil
}

var _ reservationServer = (*ReservationService)(nil)
