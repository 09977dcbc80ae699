//go:build linux

package daemon

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/wormholefs/wormhole/internal/assemble"
	"github.com/wormholefs/wormhole/internal/layer"
)

func dialService(t *testing.T, engine *Engine) (WormholeControlClient, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)

	grpcServer := grpc.NewServer()
	RegisterWormholeControlServer(grpcServer, &Service{Engine: engine})
	go grpcServer.Serve(lis)

	conn, err := grpc.DialContext(
		context.Background(),
		"bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	return NewWormholeControlClient(conn), func() {
		conn.Close()
		grpcServer.Stop()
	}
}

func TestServiceStatusReportsRegisteredEnvironments(t *testing.T) {
	engine := NewEngine("/bin/true", assemble.Options{})
	engine.Register(layer.Environment{Name: "base"})

	client, closeFn := dialService(t, engine)
	defer closeFn()

	st, err := client.Status(context.Background(), &emptypb.Empty{})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	got, ok := st.Fields["base"]
	if !ok {
		t.Fatalf("Status fields = %v, want a \"base\" entry", st.Fields)
	}
	if got.GetStringValue() != "Configured" {
		t.Errorf("base state = %q, want Configured", got.GetStringValue())
	}
}

func TestServiceBeginAsyncSetupRejectsDoubleCall(t *testing.T) {
	helper := writeSleepHelper(t, 2)
	engine := NewEngine(helper, assemble.Options{})
	engine.Register(layer.Environment{Name: "base"})

	client, closeFn := dialService(t, engine)
	defer closeFn()

	req := wrapperspb.String("base")
	if _, err := client.BeginAsyncSetup(context.Background(), req); err != nil {
		t.Fatalf("first BeginAsyncSetup: %v", err)
	}
	defer engine.WaitAsyncSetup("base")

	if _, err := client.BeginAsyncSetup(context.Background(), req); err == nil {
		t.Fatal("second BeginAsyncSetup: want error while first is pending")
	}
}

func TestServiceAssembleUnknownEnvironment(t *testing.T) {
	engine := NewEngine("/bin/true", assemble.Options{})
	client, closeFn := dialService(t, engine)
	defer closeFn()

	if _, err := client.Assemble(context.Background(), wrapperspb.String("missing")); err == nil {
		t.Fatal("Assemble: want error for unregistered environment")
	}
}
