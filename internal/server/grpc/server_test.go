package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/tontineledger/internal/common"
	"github.com/dmitrijs2005/tontineledger/internal/logging"
	"github.com/dmitrijs2005/tontineledger/internal/server/auth"
	"github.com/dmitrijs2005/tontineledger/internal/server/services"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:0", logging.NopLogger{}, &fakeTontine{}, &fakeAuditor{}, "secret")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on graceful stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:99999", logging.NopLogger{}, &fakeTontine{}, &fakeAuditor{}, "secret")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Run(ctx); err == nil {
		t.Fatal("expected error from Run on bad address, got nil")
	}
}

func dialBufconn(t *testing.T, s *GRPCServer) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := s.NewServer()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestService_EndToEnd(t *testing.T) {
	const secret = "e2e-secret"

	f := &fakeTontine{view: &services.GroupView{
		Group:             testGroup(),
		EscrowBalance:     decimal.RequireFromString("990"),
		CommissionBalance: decimal.RequireFromString("10"),
	}}
	conn := dialBufconn(t, NewGRPCServer("bufnet", logging.NopLogger{}, f, &fakeAuditor{}, secret))

	in, err := structpb.NewStruct(map[string]any{"group_id": "g1"})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	method := "/" + ServiceName + "/GetGroup"

	// no token
	out := new(structpb.Struct)
	err = conn.Invoke(context.Background(), method, in, out)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated, got %v", status.Code(err))
	}

	token, err := auth.GenerateToken("alice", []byte(secret), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	ctx := metadata.AppendToOutgoingContext(context.Background(), common.AccessTokenHeaderName, token)

	out = new(structpb.Struct)
	if err := conn.Invoke(ctx, method, in, out); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := out.AsMap()["escrow_balance"]; got != "990.00" {
		t.Fatalf("escrow_balance = %v", got)
	}
}

func TestService_EndToEnd_ErrorStatus(t *testing.T) {
	const secret = "e2e-secret"

	f := &fakeTontine{err: common.ErrGroupNotFound}
	conn := dialBufconn(t, NewGRPCServer("bufnet", logging.NopLogger{}, f, &fakeAuditor{}, secret))

	token, _ := auth.GenerateToken("alice", []byte(secret), time.Hour)
	ctx := metadata.AppendToOutgoingContext(context.Background(), common.AccessTokenHeaderName, token)

	in, _ := structpb.NewStruct(map[string]any{"group_id": "missing"})
	err := conn.Invoke(ctx, "/"+ServiceName+"/GetGroup", in, new(structpb.Struct))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("want NotFound, got %v", status.Code(err))
	}
}
