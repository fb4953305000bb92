package bridge

import (
	"context"
	"time"

	"github.com/danmuck/kbclient/internal/logging"
	"github.com/danmuck/kbclient/internal/protocol/frame"
	"github.com/danmuck/kbclient/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Client requests trains from one bridge endpoint and decodes them into
// per-source bundles. It is not safe for concurrent RequestNext calls.
type Client struct {
	id      string
	session *session.Session
	limits  frame.Limits
	logger  zerolog.Logger
}

type clientOptions struct {
	session  session.Config
	limits   frame.Limits
	sockets  session.SocketFactory
	clientID string
}

// Option customizes Connect.
type Option func(*clientOptions)

func WithSessionConfig(cfg session.Config) Option {
	return func(o *clientOptions) { o.session = cfg }
}

func WithLimits(limits frame.Limits) Option {
	return func(o *clientOptions) { o.limits = limits }
}

// WithSocketFactory swaps the transport socket, mostly for tests.
func WithSocketFactory(f session.SocketFactory) Option {
	return func(o *clientOptions) { o.sockets = f }
}

func WithClientID(id string) Option {
	return func(o *clientOptions) { o.clientID = id }
}

// Connect dials endpoint. Failures are *session.ConnectError.
func Connect(ctx context.Context, endpoint string, opts ...Option) (*Client, error) {
	o := clientOptions{
		session: session.DefaultConfig(),
		limits:  frame.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clientID == "" {
		o.clientID = uuid.NewString()
	}
	var sessOpts []session.Option
	if o.sockets != nil {
		sessOpts = append(sessOpts, session.WithSocketFactory(o.sockets))
	}
	s, err := session.Dial(ctx, endpoint, o.session, sessOpts...)
	if err != nil {
		return nil, err
	}
	c := &Client{
		id:      o.clientID,
		session: s,
		limits:  o.limits,
		logger:  logging.Component("bridge").With().Str("client", o.clientID).Logger(),
	}
	c.logger.Info().Str("endpoint", endpoint).Msg("bridge client connected")
	return c, nil
}

func (c *Client) ID() string           { return c.id }
func (c *Client) Endpoint() string     { return c.session.Endpoint() }
func (c *Client) Stats() session.Stats { return c.session.Stats() }

// DefaultTimeout is the session's configured receive timeout.
func (c *Client) DefaultTimeout() time.Duration {
	return c.session.Config().ReceiveTimeout
}

// RequestNext fetches and decodes the next train. A timeout returns
// (nil, false, nil); the outstanding request is reused by the next call.
func (c *Client) RequestNext(ctx context.Context, timeout time.Duration) (Data, bool, error) {
	reply, ok, err := c.session.RequestNext(ctx, timeout)
	if err != nil || !ok {
		return nil, ok, err
	}
	data, err := Decode(reply, c.limits)
	if err != nil {
		c.logger.Warn().Err(err).Int("frames", len(reply)).Msg("bridge reply rejected")
		return nil, false, err
	}
	return data, true, nil
}

// RequestRaw fetches the next reply without decoding it.
func (c *Client) RequestRaw(ctx context.Context, timeout time.Duration) (frame.RawReply, bool, error) {
	return c.session.RequestNext(ctx, timeout)
}

func (c *Client) Close() error {
	return c.session.Close()
}
