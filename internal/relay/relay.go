// Package relay forwards raw byte payloads to an external device or endpoint.
// Framing is the receiver's business; bytes are written as given.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "eventsched/pkg/logx"
)

var (
	ErrUnknownDriver = errors.New("relay: unknown driver")
	ErrClosed        = errors.New("relay: closed")
	ErrTooLarge      = errors.New("relay: payload larger than burst")
)

// Config selects the target.
//
// Driver values:
//   - "discard" (also ""): payloads are counted and dropped
//   - "stdout": written to standard output
//   - "file": appended to Target (a file or device node)
//   - "tcp": written to the Target host:port connection
type Config struct {
	Driver      string
	Target      string
	BytesPerSec int
	Burst       int
	DialTimeout time.Duration
}

// Relay serializes writes to one target, paced by a token bucket.
type Relay struct {
	cfg     Config
	log     logx.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	dial   func(ctx context.Context) (io.WriteCloser, error)
	sent   uint64
	closed bool
}

// Open prepares the target. TCP connections are established lazily.
func Open(cfg Config, log logx.Logger) (*Relay, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.BytesPerSec <= 0 {
		cfg.BytesPerSec = 1024
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 256
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	r := &Relay{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "relay"), logx.String("driver", driver)),
		limiter: rate.NewLimiter(rate.Limit(cfg.BytesPerSec), cfg.Burst),
	}

	switch driver {
	case "", "discard":
		r.w = io.Discard
	case "stdout":
		r.w = os.Stdout
	case "file":
		if strings.TrimSpace(cfg.Target) == "" {
			return nil, errors.New("relay.target is required for file driver")
		}
		f, err := os.OpenFile(cfg.Target, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, err
		}
		r.w, r.closer = f, f
	case "tcp":
		if strings.TrimSpace(cfg.Target) == "" {
			return nil, errors.New("relay.target is required for tcp driver")
		}
		d := net.Dialer{Timeout: cfg.DialTimeout}
		r.dial = func(ctx context.Context) (io.WriteCloser, error) {
			return d.DialContext(ctx, "tcp", cfg.Target)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
	return r, nil
}

// NewWriter wraps an arbitrary writer (tests, embedding).
func NewWriter(w io.Writer, bytesPerSec, burst int) *Relay {
	if bytesPerSec <= 0 {
		bytesPerSec = 1024
	}
	if burst <= 0 {
		burst = 256
	}
	return &Relay{
		log:     logx.Nop(),
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
	}
}

// Forward writes b to the target, waiting for rate budget chunk by chunk.
func (r *Relay) Forward(ctx context.Context, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.w == nil && r.dial != nil {
		conn, err := r.dial(ctx)
		if err != nil {
			return fmt.Errorf("relay dial: %w", err)
		}
		r.w, r.closer = conn, conn
	}

	burst := r.limiter.Burst()
	for off := 0; off < len(b); off += burst {
		end := off + burst
		if end > len(b) {
			end = len(b)
		}
		if err := r.limiter.WaitN(ctx, end-off); err != nil {
			return err
		}
		n, err := r.w.Write(b[off:end])
		r.sent += uint64(n)
		if err != nil {
			r.dropConnLocked()
			return fmt.Errorf("relay write: %w", err)
		}
	}
	r.log.Debug("bytes forwarded", logx.Int("bytes", len(b)))
	return nil
}

// Sent reports the total bytes written.
func (r *Relay) Sent() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

func (r *Relay) dropConnLocked() {
	if r.dial == nil || r.closer == nil {
		return
	}
	_ = r.closer.Close()
	r.w, r.closer = nil, nil
}

func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// ParsePayload decodes a configured payload. "hex:0a0b" is hex; anything
// else is text where Go escapes (\n, \r, \x1b) are interpreted.
func ParsePayload(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, "hex:"); ok {
		return decodeHex(rest)
	}
	return unescape(s)
}
