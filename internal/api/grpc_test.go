package api

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"rentmarket/internal/config"
	"rentmarket/internal/models"
	"rentmarket/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type grpcEnv struct {
	conn *grpc.ClientConn
	svc  Services
}

func newGRPCEnv(t *testing.T, cfg config.APIConfig) *grpcEnv {
	t.Helper()
	db := newTestDB(t)
	guards := repository.NewMemoryGuardStore()
	svc := newTestServices(t, db, guards)
	logger := zerolog.New(io.Discard)

	server, err := newGRPCServer(cfg, svc, guards, &logger)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &grpcEnv{conn: conn, svc: svc}
}

func (e *grpcEnv) call(t *testing.T, actor *models.Actor, method string, fields map[string]any, md ...string) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(fields)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pairs := append([]string{}, md...)
	if actor != nil {
		pairs = append(pairs, headerActorID, strconv.FormatInt(actor.UserID, 10), headerActorRole, string(actor.Role))
	}
	ctx = metadata.NewOutgoingContext(ctx, metadata.Pairs(pairs...))

	resp := new(structpb.Struct)
	err = e.conn.Invoke(ctx, fullMethod(method), req, resp)
	return resp, err
}

func nested(t *testing.T, resp *structpb.Struct, key string) map[string]any {
	t.Helper()
	v, ok := resp.AsMap()[key].(map[string]any)
	require.True(t, ok, "missing %s in %v", key, resp.AsMap())
	return v
}

func (e *grpcEnv) publishedItem(t *testing.T, price int64) int64 {
	t.Helper()
	item := &models.Item{CategoryID: 1, Name: "Kayak", PriceCents: price}
	require.NoError(t, e.svc.Items.CreateItem(context.Background(), ownerActor, item))
	_, err := e.svc.Items.Publish(context.Background(), ownerActor, item.ID)
	require.NoError(t, err)
	return item.ID
}

func TestGRPC_ReservationLifecycle(t *testing.T) {
	env := newGRPCEnv(t, defaultAPIConfig())
	itemID := env.publishedItem(t, 2500)

	resp, err := env.call(t, &renterActor, "CreateReservation", map[string]any{
		"item_id": itemID, "start_date": futureDay(3), "end_date": futureDay(5),
	})
	require.NoError(t, err)
	reservation := nested(t, resp, "reservation")
	assert.Equal(t, "pending", reservation["state"])
	resID := int64(reservation["id"].(float64))

	_, err = env.call(t, &renterActor, "AcceptReservation", map[string]any{"reservation_id": resID})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	resp, err = env.call(t, &ownerActor, "AcceptReservation", map[string]any{"reservation_id": resID})
	require.NoError(t, err)
	assert.Equal(t, "accepted", nested(t, resp, "reservation")["state"])

	resp, err = env.call(t, &renterActor, "ComputeAmount", map[string]any{"reservation_id": resID})
	require.NoError(t, err)
	assert.Equal(t, float64(5000), resp.AsMap()["amount_cents"])

	resp, err = env.call(t, &renterActor, "ProcessPayment", map[string]any{"reservation_id": resID, "method": "card"})
	require.NoError(t, err)
	assert.Equal(t, "completed", nested(t, resp, "payment")["state"])

	_, err = env.call(t, &renterActor, "ProcessPayment", map[string]any{"reservation_id": resID, "method": "card"})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	_, err = env.call(t, &ownerActor, "RejectReservation", map[string]any{"reservation_id": resID})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	resp, err = env.call(t, &renterActor, "ListReservations", map[string]any{})
	require.NoError(t, err)
	assert.Len(t, resp.AsMap()["reservations"], 1)

	resp, err = env.call(t, &ownerActor, "ListReservations", map[string]any{"item_id": itemID})
	require.NoError(t, err)
	assert.Len(t, resp.AsMap()["reservations"], 1)

	resp, err = env.call(t, &ownerActor, "CancelReservation", map[string]any{"reservation_id": resID})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", nested(t, resp, "reservation")["state"])

	resp, err = env.call(t, &renterActor, "GetItem", map[string]any{"item_id": itemID})
	require.NoError(t, err)
	assert.Equal(t, "available", nested(t, resp, "item")["availability"])
}

func TestGRPC_Errors(t *testing.T) {
	env := newGRPCEnv(t, defaultAPIConfig())
	itemID := env.publishedItem(t, 100)

	tests := []struct {
		name   string
		actor  *models.Actor
		method string
		fields map[string]any
		code   codes.Code
	}{
		{"NoActor", nil, "GetItem", map[string]any{"item_id": itemID}, codes.Unauthenticated},
		{"MissingID", &renterActor, "GetReservation", map[string]any{}, codes.InvalidArgument},
		{"FractionalID", &renterActor, "GetReservation", map[string]any{"reservation_id": 1.5}, codes.InvalidArgument},
		{"StringID", &renterActor, "GetReservation", map[string]any{"reservation_id": "1"}, codes.InvalidArgument},
		{"UnknownReservation", &renterActor, "GetReservation", map[string]any{"reservation_id": 404}, codes.NotFound},
		{"BadDate", &renterActor, "CreateReservation", map[string]any{"item_id": itemID, "start_date": "tomorrow", "end_date": futureDay(2)}, codes.InvalidArgument},
		{"SelfBooking", &models.Actor{UserID: ownerActor.UserID, Role: models.RoleRenter}, "CreateReservation",
			map[string]any{"item_id": itemID, "start_date": futureDay(1), "end_date": futureDay(2)}, codes.FailedPrecondition},
		{"AdvanceNotAdmin", &renterActor, "AdvanceIncident", map[string]any{"incident_id": 1, "state": "resolved"}, codes.PermissionDenied},
		{"ReviewNotEligible", &renterActor, "CreateReview", map[string]any{"item_id": itemID, "rating": 4}, codes.FailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.call(t, tt.actor, tt.method, tt.fields)
			assert.Equal(t, tt.code, status.Code(err), "%v", err)
		})
	}
}

func TestGRPC_UnknownMethod(t *testing.T) {
	env := newGRPCEnv(t, defaultAPIConfig())
	err := env.conn.Invoke(context.Background(), "/"+reservationServiceName+"/DropTables", &structpb.Struct{}, new(structpb.Struct))
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestGRPC_Auth(t *testing.T) {
	cfg := defaultAPIConfig()
	cfg.Auth = config.APIAuthConfig{
		Enabled: true,
		APIKeys: []config.APIClientKey{
			{Key: "reader", Extra: "x", Permissions: []string{permReadItems}},
			{Key: "catalog", Extra: "y", Permissions: []string{permReadItems, permWriteItems}},
		},
	}
	env := newGRPCEnv(t, cfg)
	itemID := env.publishedItem(t, 100)

	draft := &models.Item{CategoryID: 1, Name: "Canoe", PriceCents: 300}
	require.NoError(t, env.svc.Items.CreateItem(context.Background(), ownerActor, draft))

	_, err := env.call(t, &ownerActor, "PublishItem", map[string]any{"item_id": draft.ID})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = env.call(t, &ownerActor, "PublishItem", map[string]any{"item_id": draft.ID}, "x-api-key", "reader", "x-api-extra", "x")
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	resp, err := env.call(t, &ownerActor, "PublishItem", map[string]any{"item_id": draft.ID}, "x-api-key", "catalog", "x-api-extra", "y")
	require.NoError(t, err)
	assert.Equal(t, "available", nested(t, resp, "item")["availability"])

	_, err = env.call(t, &renterActor, "GetItem", map[string]any{"item_id": itemID})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = env.call(t, &renterActor, "GetItem", map[string]any{"item_id": itemID}, "x-api-key", "reader", "x-api-extra", "x")
	assert.NoError(t, err)

	_, err = env.call(t, &renterActor, "CreateReservation", map[string]any{"item_id": itemID}, "x-api-key", "reader", "x-api-extra", "x")
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestGRPC_WriteLimit(t *testing.T) {
	cfg := defaultAPIConfig()
	cfg.RateLimit = config.APIRateLimitConfig{WritesPerWindow: 1, Window: time.Minute}
	env := newGRPCEnv(t, cfg)

	_, err := env.call(t, &ownerActor, "PublishItem", map[string]any{"item_id": 404})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = env.call(t, &ownerActor, "PublishItem", map[string]any{"item_id": 404})
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	_, err = env.call(t, &ownerActor, "ListPendingReservations", map[string]any{})
	assert.NoError(t, err)
}

func TestGRPCServer_New(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.New(io.Discard)
	cfg := config.APIConfig{GRPC: config.APIGRPCConfig{Port: 0, Reflection: true}}

	s, err := NewGRPCServer(cfg, newTestServices(t, db, repository.NewMemoryGuardStore()), nil, &logger)
	require.NoError(t, err)
	assert.NotEmpty(t, s.Addr())

	go func() { _ = s.Serve() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Shutdown(ctx)
}

func TestBuildTLSConfig(t *testing.T) {
	t.Run("EmptyPaths", func(t *testing.T) {
		_, err := buildTLSConfig(config.APITLSConfig{Enabled: true})
		assert.Error(t, err)
	})

	t.Run("InvalidCert", func(t *testing.T) {
		_, err := buildTLSConfig(config.APITLSConfig{
			Enabled:  true,
			CertFile: "/nonexistent",
			KeyFile:  "/nonexistent",
		})
		assert.Error(t, err)
	})
}

func TestServiceDesc(t *testing.T) {
	desc := ServiceDesc()
	assert.Equal(t, reservationServiceName, desc.ServiceName)
	assert.Len(t, desc.Methods, len(grpcMethods))
	for i := 1; i < len(desc.Methods); i++ {
		assert.Less(t, desc.Methods[i-1].MethodName, desc.Methods[i].MethodName)
	}
}
