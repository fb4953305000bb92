// Package sink publishes per-train summaries to Redis streams.
package sink

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/kbclient/internal/logging"
	"github.com/danmuck/kbclient/internal/observability"
	"github.com/danmuck/kbclient/internal/pipeline"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultLastKey holds the id of the last published train.
const DefaultLastKey = "kbclient:last_tid"

var ErrNoTrainID = errors.New("sink: train has no id")

type Config struct {
	URL     string
	Stream  string
	MaxLen  int64
	LastKey string
	// CAFile verifies a rediss:// server against this PEM bundle instead of
	// the system roots.
	CAFile string
}

// RedisSink appends one stream entry per train.
type RedisSink struct {
	client redis.UniversalClient
	cfg    Config
	logger zerolog.Logger
}

// NewRedisSink connects and pings the server.
func NewRedisSink(ctx context.Context, cfg Config) (*RedisSink, error) {
	opts, err := parseRedisURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Stream == "" {
		return nil, fmt.Errorf("sink: stream name required")
	}
	if cfg.CAFile != "" {
		if err := applyCAFile(opts, cfg.CAFile); err != nil {
			return nil, err
		}
	}
	if cfg.LastKey == "" {
		cfg.LastKey = DefaultLastKey
	}
	c := redis.NewUniversalClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("sink: ping %s: %w", cfg.URL, err)
	}
	return &RedisSink{client: c, cfg: cfg, logger: logging.Component("sink")}, nil
}

// Publish writes the train summary. Trains without an id are skipped with
// ErrNoTrainID.
func (s *RedisSink) Publish(ctx context.Context, t *pipeline.Train) error {
	if !t.HasID {
		return ErrNoTrainID
	}
	tid := strconv.FormatUint(t.ID, 10)
	args := &redis.XAddArgs{
		Stream: s.cfg.Stream,
		Values: map[string]any{
			"tid":            tid,
			"sources":        strings.Join(t.Data.Sources(), ","),
			"bytes":          t.Data.BytesReceived(),
			"items":          len(t.Items),
			"acquisition_us": t.Acquisition.Microseconds(),
			"received_at":    t.ReceivedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if s.cfg.MaxLen > 0 {
		args.MaxLen = s.cfg.MaxLen
		args.Approx = true
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAdd(ctx, args)
		p.Set(ctx, s.cfg.LastKey, tid, 0)
		return nil
	})
	observability.RecordSinkPublish(s.cfg.Stream, err == nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("stream", s.cfg.Stream).Str("tid", tid).Msg("sink publish failed")
		return fmt.Errorf("sink: publish train %s: %w", tid, err)
	}
	return nil
}

// Consume drains the broker queue into the sink until ctx is done or the
// queue closes. Publish failures are logged by Publish and skipped.
func (s *RedisSink) Consume(ctx context.Context, q *pipeline.Queue[*pipeline.Train]) error {
	return pipeline.Consume(ctx, q, func(t *pipeline.Train) error {
		_ = s.Publish(ctx, t)
		return nil
	})
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

func applyCAFile(opts *redis.UniversalOptions, path string) error {
	if opts.TLSConfig == nil {
		return fmt.Errorf("sink: ca file %s requires a rediss:// URL", path)
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("sink: read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return fmt.Errorf("sink: no certificates in %s", path)
	}
	opts.TLSConfig.RootCAs = pool
	return nil
}

// parseRedisURL parses addr into UniversalOptions supporting single, cluster,
// and sentinel Redis deployments. If no scheme is present, addr is treated as
// a plain host:port string.
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis: empty URL")
	}
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}

	opts := &redis.UniversalOptions{}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	opts.Addrs = strings.Split(u.Host, ",")

	q := u.Query()
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	switch u.Scheme {
	case "redis", "rediss":
		if u.Path != "" && u.Path != "/" {
			db, err := strconv.Atoi(strings.TrimPrefix(u.Path, "/"))
			if err != nil {
				return nil, fmt.Errorf("redis: invalid db: %v", err)
			}
			opts.DB = db
		} else if dbStr := q.Get("db"); dbStr != "" {
			db, err := strconv.Atoi(dbStr)
			if err != nil {
				return nil, fmt.Errorf("redis: invalid db: %v", err)
			}
			opts.DB = db
		}
		if u.Scheme == "rediss" {
			opts.TLSConfig = tlsCfg
		}
	case "redis-sentinel", "rediss-sentinel":
		opts.MasterName = strings.TrimPrefix(u.Path, "/")
		if dbStr := q.Get("db"); dbStr != "" {
			db, err := strconv.Atoi(dbStr)
			if err != nil {
				return nil, fmt.Errorf("redis: invalid db: %v", err)
			}
			opts.DB = db
		}
		if u.Scheme == "rediss-sentinel" {
			opts.TLSConfig = tlsCfg
		}
	default:
		return nil, fmt.Errorf("redis: invalid URL scheme: %s", u.Scheme)
	}
	return opts, nil
}
