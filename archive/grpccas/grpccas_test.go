package grpccas

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/gb-murray/pcl-exchange/archive"
	"github.com/gb-murray/pcl-exchange/archive/casttest"
	"github.com/gb-murray/pcl-exchange/archive/localfs"
)

func newBufconnClient(t *testing.T) *Client {
	t.Helper()
	cas, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}

	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	RegisterCASServer(srv, &Server{CAS: cas})
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	client, err := Dial("passthrough:///bufnet", DialOptions{
		Timeout: 2 * time.Second,
		Extra:   []grpc.DialOption{grpc.WithContextDialer(dialer)},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestGRPCCASConformance(t *testing.T) {
	casttest.Run(t, func(t *testing.T) archive.CAS {
		return newBufconnClient(t)
	})
}

func TestGRPCCASRoundTrip(t *testing.T) {
	client := newBufconnClient(t)
	ctx := context.Background()

	payload := casttest.Document(t, "urn:uuid:c0ffee00-1234-4abc-8def-0123456789ab")
	id, err := client.Put(ctx, payload)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !client.Has(ctx, id) {
		t.Fatalf("Has: expected true")
	}
	got, err := client.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestServerRejectsNonCanonicalBlocks(t *testing.T) {
	cas, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	s := &Server{CAS: cas}
	_, err = s.Put(context.Background(), wrapperspb.Bytes([]byte(`{"b":1,"a":2}`)))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("Put: got %v, want InvalidArgument", err)
	}
}

func TestServerWithoutCAS(t *testing.T) {
	s := &Server{}
	if _, err := s.Has(context.Background(), nil); err == nil {
		t.Fatalf("expected missing CAS to fail")
	}
}
