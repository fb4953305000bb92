package bridgetest

import (
	"context"
	"sync"
	"testing"

	"github.com/go-zeromq/zmq4"
)

// Server is a ZeroMQ REP bridge that answers each request with the next
// enqueued reply. A request with no reply queued waits until one is enqueued.
type Server struct {
	Endpoint string

	sock    zmq4.Socket
	cancel  context.CancelFunc
	replies chan [][]byte
	done    chan struct{}

	mu       sync.Mutex
	requests [][]byte
}

// NewServer listens on a loopback port and stops when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	sock := zmq4.NewRep(ctx)
	if err := sock.Listen("tcp://127.0.0.1:0"); err != nil {
		cancel()
		t.Fatalf("bridgetest listen: %v", err)
	}
	s := &Server{
		Endpoint: "tcp://" + sock.Addr().String(),
		sock:     sock,
		cancel:   cancel,
		replies:  make(chan [][]byte, 64),
		done:     make(chan struct{}),
	}
	go s.serve(ctx)
	t.Cleanup(s.Close)
	return s
}

// Enqueue schedules a reply for the next request.
func (s *Server) Enqueue(frames [][]byte) {
	s.replies <- frames
}

// Requests returns the payloads received so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.requests))
	for i, r := range s.requests {
		out[i] = string(r)
	}
	return out
}

func (s *Server) Close() {
	s.cancel()
	_ = s.sock.Close()
	<-s.done
}

func (s *Server) serve(ctx context.Context) {
	defer close(s.done)
	for {
		msg, err := s.sock.Recv()
		if err != nil {
			return
		}
		s.mu.Lock()
		if len(msg.Frames) > 0 {
			s.requests = append(s.requests, append([]byte(nil), msg.Frames[0]...))
		}
		s.mu.Unlock()

		var frames [][]byte
		select {
		case frames = <-s.replies:
		case <-ctx.Done():
			return
		}
		if err := s.sock.SendMulti(zmq4.NewMsgFrom(frames...)); err != nil {
			return
		}
	}
}
