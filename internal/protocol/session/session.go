package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/kbclient/internal/logging"
	"github.com/danmuck/kbclient/internal/protocol/frame"
	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"
)

// NextRequest is the literal request payload.
var NextRequest = []byte("next")

var (
	ErrSessionBusy   = errors.New("session: request already in flight")
	ErrSessionClosed = errors.New("session: closed")
	ErrTransport     = errors.New("session: transport failure")
)

// ConnectError reports a failed initial connection.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("session: connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Socket is the part of a REQ socket the session drives.
type Socket interface {
	Dial(endpoint string) error
	Send(frames [][]byte) error
	Recv() ([][]byte, error)
	Close() error
}

// SocketFactory builds an unconnected socket.
type SocketFactory func(ctx context.Context, cfg Config) Socket

// Stats is a snapshot of session counters.
type Stats struct {
	Requests      uint64
	Replies       uint64
	Timeouts      uint64
	Redials       uint64
	BytesReceived uint64
	Pending       bool
}

type recvResult struct {
	frames [][]byte
	err    error
}

// Session is a REQ connection that keeps at most one "next" request
// outstanding. A request that timed out stays pending and is reused.
type Session struct {
	endpoint  Endpoint
	cfg       Config
	newSocket SocketFactory
	logger    zerolog.Logger

	busy atomic.Bool

	mu       sync.Mutex
	sock     Socket
	cancel   context.CancelFunc
	pending  chan recvResult
	closed   bool
	failures int
	rng      *rand.Rand

	requests atomic.Uint64
	replies  atomic.Uint64
	timeouts atomic.Uint64
	redials  atomic.Uint64
	bytes    atomic.Uint64
}

// Option customizes Dial.
type Option func(*Session)

// WithSocketFactory replaces the ZeroMQ socket, mostly for tests.
func WithSocketFactory(f SocketFactory) Option {
	return func(s *Session) {
		if f != nil {
			s.newSocket = f
		}
	}
}

// Dial validates endpoint and connects a REQ socket.
func Dial(ctx context.Context, endpoint string, cfg Config, opts ...Option) (*Session, error) {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, &ConnectError{Endpoint: endpoint, Err: err}
	}
	if err := cfg.ValidateSecurity(); err != nil {
		return nil, &ConnectError{Endpoint: endpoint, Err: err}
	}
	s := &Session{
		endpoint:  ep,
		cfg:       cfg,
		newSocket: newZMQSocket,
		logger:    logging.Component("session"),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	sock, cancel, err := s.connect(ctx)
	if err != nil {
		return nil, &ConnectError{Endpoint: endpoint, Err: err}
	}
	s.sock, s.cancel = sock, cancel
	s.logger.Info().Str("endpoint", ep.String()).Msg("session connected")
	return s, nil
}

func (s *Session) Endpoint() string { return s.endpoint.String() }
func (s *Session) Config() Config   { return s.cfg }

// RequestNext sends "next" unless a request is already pending, then waits up
// to timeout for the reply. A timeout returns (nil, false, nil) and leaves the
// request pending. timeout <= 0 waits on ctx only.
func (s *Session) RequestNext(ctx context.Context, timeout time.Duration) (frame.RawReply, bool, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, false, ErrSessionBusy
	}
	defer s.busy.Store(false)

	ch, err := s.ensurePending(ctx)
	if err != nil {
		return nil, false, err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case res := <-ch:
		return s.complete(ch, res)
	case <-expired:
		s.timeouts.Add(1)
		s.logger.Debug().Dur("timeout", timeout).Msg("session.next timed out; request stays pending")
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (s *Session) ensurePending(ctx context.Context) (chan recvResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.pending != nil {
		ch := s.pending
		s.mu.Unlock()
		return ch, nil
	}
	sock := s.sock
	failures := s.failures
	s.mu.Unlock()

	if sock == nil {
		var err error
		if sock, err = s.redial(ctx, failures); err != nil {
			return nil, err
		}
	}

	if err := sock.Send([][]byte{NextRequest}); err != nil {
		s.reset(sock)
		return nil, fmt.Errorf("%w: send: %w", ErrTransport, err)
	}
	s.requests.Add(1)

	ch := make(chan recvResult, 1)
	go func() {
		frames, err := sock.Recv()
		ch <- recvResult{frames: frames, err: err}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	s.pending = ch
	return ch, nil
}

func (s *Session) complete(ch chan recvResult, res recvResult) (frame.RawReply, bool, error) {
	s.mu.Lock()
	if s.pending == ch {
		s.pending = nil
	}
	sock := s.sock
	closed := s.closed
	s.mu.Unlock()

	if res.err != nil {
		if closed {
			return nil, false, ErrSessionClosed
		}
		s.reset(sock)
		s.logger.Warn().Err(res.err).Str("endpoint", s.endpoint.String()).Msg("session.recv failed")
		return nil, false, fmt.Errorf("%w: recv: %w", ErrTransport, res.err)
	}

	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()

	reply := frame.FromParts(res.frames)
	s.replies.Add(1)
	s.bytes.Add(uint64(reply.BytesReceived()))
	return reply, true, nil
}

// redial connects a fresh socket after waiting out the backoff for the
// current failure streak.
func (s *Session) redial(ctx context.Context, failures int) (Socket, error) {
	if failures > 0 {
		delay := s.cfg.Backoff.Delay(failures, s.rng)
		s.logger.Info().Int("attempt", failures).Dur("delay", delay).Str("endpoint", s.endpoint.String()).Msg("session redial backoff")
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}

	sock, cancel, err := s.connect(ctx)
	s.redials.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failures++
		return nil, fmt.Errorf("%w: redial: %w", ErrTransport, err)
	}
	if s.closed {
		cancel()
		_ = sock.Close()
		return nil, ErrSessionClosed
	}
	s.sock, s.cancel = sock, cancel
	return sock, nil
}

func (s *Session) connect(ctx context.Context) (Socket, context.CancelFunc, error) {
	sockCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sock := s.newSocket(sockCtx, s.cfg)
	if err := sock.Dial(s.endpoint.String()); err != nil {
		cancel()
		_ = sock.Close()
		return nil, nil, err
	}
	return sock, cancel, nil
}

// reset drops sock after a transport failure so the next request redials.
func (s *Session) reset(sock Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	s.pending = nil
	if s.sock == sock && sock != nil {
		_ = sock.Close()
		if s.cancel != nil {
			s.cancel()
		}
		s.sock, s.cancel = nil, nil
	}
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	pending := s.pending != nil
	s.mu.Unlock()
	return Stats{
		Requests:      s.requests.Load(),
		Replies:       s.replies.Load(),
		Timeouts:      s.timeouts.Load(),
		Redials:       s.redials.Load(),
		BytesReceived: s.bytes.Load(),
		Pending:       pending,
	}
}

// Close releases the socket. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil
	var err error
	if s.sock != nil {
		err = s.sock.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.sock, s.cancel = nil, nil
	s.logger.Info().Str("endpoint", s.endpoint.String()).Msg("session closed")
	return err
}

type zmqSocket struct {
	sock zmq4.Socket
}

func newZMQSocket(ctx context.Context, cfg Config) Socket {
	opts := []zmq4.Option{cfg.securityOption()}
	if cfg.DialRetry > 0 {
		opts = append(opts, zmq4.WithDialerRetry(cfg.DialRetry))
	}
	if cfg.DialMaxRetries != 0 {
		opts = append(opts, zmq4.WithDialerMaxRetries(cfg.DialMaxRetries))
	}
	return &zmqSocket{sock: zmq4.NewReq(ctx, opts...)}
}

func (z *zmqSocket) Dial(endpoint string) error { return z.sock.Dial(endpoint) }

func (z *zmqSocket) Send(frames [][]byte) error {
	return z.sock.Send(zmq4.NewMsgFrom(frames...))
}

func (z *zmqSocket) Recv() ([][]byte, error) {
	msg, err := z.sock.Recv()
	if err != nil {
		return nil, err
	}
	if err := msg.Err(); err != nil {
		return nil, err
	}
	return msg.Frames, nil
}

func (z *zmqSocket) Close() error { return z.sock.Close() }
