package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mkowalik/go-can-arbiter/internal/can"
	"github.com/mkowalik/go-can-arbiter/internal/codec"
	"github.com/mkowalik/go-can-arbiter/internal/hub"
)

// mockSend is a no-op backend send function.
func mockSend(can.Frame) error { return nil }

// startInMemoryServer launches the server on :0 for benchmarks.
func startInMemoryServer(b *testing.B, h *hub.Hub) (*Server, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(WithHub(h), WithCodec(&codec.Codec{}), WithSend(mockSend))
	go func() { _ = srv.Serve(ctx) }()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		b.Fatalf("server not ready")
	}
	return srv, cancel
}

func BenchmarkServerWriterFlush(b *testing.B) {
	h := hub.New()
	h.OutBufSize = 0
	srv, cancel := startInMemoryServer(b, h)
	defer cancel()
	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		b.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Add a client to hub (simulate broadcast direction)
	cl := &hub.Client{Out: make(chan can.Frame, 1024), Closed: make(chan struct{})}
	h.Add(cl)
	fr := can.NewDataFrame(can.MustStandard(0x321), can.DataOf(1, 2, 3, 4))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cl.Out <- fr
	}
	b.StopTimer()
	close(cl.Closed)
}
