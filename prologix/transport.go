package prologix

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mklimuk/gpib"
	"github.com/mklimuk/gpib/gpibctx"
)

const escapeChar = '\x1B'

var escaper = strings.NewReplacer(
	string(escapeChar), string(escapeChar)+string(escapeChar),
	"+", string(escapeChar)+"+",
	"\r", string(escapeChar)+"\r",
	"\n", string(escapeChar)+"\n",
)

// Escape encodes a device command so the bridge forwards it verbatim instead of
// reading its '+', CR, LF or escape bytes as controller syntax.
func Escape(payload string) string {
	return escaper.Replace(payload)
}

// Transport frames bridge protocol lines over a single stream connection.
// It knows nothing about bus state and is not safe for concurrent use.
type Transport struct {
	host   string
	config Options
	conn   net.Conn
	closed bool
}

func NewTransport(host string, opts ...Option) *Transport {
	return newTransport(host, newOptions(opts...))
}

func newTransport(host string, config Options) *Transport {
	return &Transport{host: host, config: config}
}

// Address returns the host:port the transport dials.
func (t *Transport) Address() string {
	return net.JoinHostPort(t.host, strconv.Itoa(t.config.Port))
}

// Timeout returns the response timeout shared by the bridge and the local reads.
func (t *Transport) Timeout() time.Duration {
	return t.config.Timeout
}

// Open connects to the bridge and puts it into controller mode with automatic
// reads disabled and its read timeout matching ours.
func (t *Transport) Open(ctx context.Context) error {
	if err := ValidateTimeout(t.config.Timeout); err != nil {
		return err
	}
	if t.conn != nil && !t.closed {
		return ErrAlreadyOpen
	}
	addr := t.Address()
	conn, err := t.config.Dial(ctx, "tcp", addr)
	if err != nil {
		return &gpib.ConnectionError{Addr: addr, Err: err}
	}
	t.conn = conn
	t.closed = false
	t.config.Logger.Debug("connected to bridge", "addr", addr)

	setup := []string{
		"++savecfg 0",
		"++mode 1",
		"++auto 0",
		fmt.Sprintf("++read_tmo_ms %d", t.config.Timeout.Milliseconds()),
		"++eos 3",
	}
	for _, directive := range setup {
		if err := t.send(ctx, directive); err != nil {
			_ = t.Close()
			return fmt.Errorf("bridge setup %q failed: %w", directive, err)
		}
	}
	return nil
}

// Close releases the connection. Calling it again, or on a transport that was
// never opened, is a no-op.
func (t *Transport) Close() error {
	if t.conn == nil || t.closed {
		return nil
	}
	t.closed = true
	t.config.Logger.Debug("closing bridge connection", "addr", t.Address())
	return t.conn.Close()
}

// IsOpen reports whether the connection is usable.
func (t *Transport) IsOpen() bool {
	return t.conn != nil && !t.closed
}

// SendRaw escapes payload and sends it as one line to be forwarded to the
// selected device.
func (t *Transport) SendRaw(ctx context.Context, payload string) error {
	return t.send(ctx, Escape(payload))
}

// SendDirective sends a bridge "++" directive unescaped.
func (t *Transport) SendDirective(ctx context.Context, format string, args ...any) error {
	return t.send(ctx, fmt.Sprintf(format, args...))
}

func (t *Transport) send(ctx context.Context, line string) error {
	if !t.IsOpen() {
		return gpib.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	frame := []byte(line + "\n")
	if gpibctx.IsVerbose(ctx) {
		t.config.Logger.Debug("sending frame to bridge", "tag", gpibctx.Tag(ctx), "frame", hex.Dump(frame))
	}
	deadline := t.deadline(ctx)
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: could not set write deadline: %w", gpib.ErrTimeout, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetWriteDeadline(time.Unix(1, 0))
	})
	defer stop()
	_, err := t.conn.Write(frame)
	if err != nil {
		if ctxErr := contextErr(ctx); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: bridge %s unreachable: %w", gpib.ErrTimeout, t.Address(), err)
	}
	return nil
}

// RecvRaw reads one response of at most maxBytes bytes. The read ends at the
// first line feed, at maxBytes, or when the stream stays idle for IdleGap after
// data started arriving. The trailing line feed is dropped.
func (t *Transport) RecvRaw(ctx context.Context, maxBytes int) (string, error) {
	if !t.IsOpen() {
		return "", gpib.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if maxBytes <= 0 {
		maxBytes = gpib.DefaultReadSize
	}
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	deadline := t.deadline(ctx)
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return "", fmt.Errorf("%w: could not set read deadline: %w", gpib.ErrTimeout, err)
	}
	chunk := make([]byte, min(maxBytes, 4096))
	buf := make([]byte, 0, len(chunk))
	for len(buf) < maxBytes {
		n, err := t.conn.Read(chunk[:min(len(chunk), maxBytes-len(buf))])
		buf = append(buf, chunk[:n]...)
		if n > 0 && buf[len(buf)-1] == '\n' {
			break
		}
		if err != nil {
			if ctxErr := contextErr(ctx); ctxErr != nil {
				return "", ctxErr
			}
			if len(buf) > 0 && (isTimeout(err) || errors.Is(err, io.EOF)) {
				break
			}
			if isTimeout(err) {
				return "", fmt.Errorf("%w: no response from %s within %s", gpib.ErrTimeout, t.Address(), t.config.Timeout)
			}
			return "", fmt.Errorf("%w: read from %s failed: %w", gpib.ErrTimeout, t.Address(), err)
		}
		if n > 0 {
			idle := time.Now().Add(t.config.IdleGap)
			if idle.After(deadline) {
				idle = deadline
			}
			_ = t.conn.SetReadDeadline(idle)
		}
	}
	if gpibctx.IsVerbose(ctx) {
		t.config.Logger.Debug("received frame from bridge", "tag", gpibctx.Tag(ctx), "frame", hex.Dump(buf))
	}
	if len(buf) > 0 && buf[len(buf)-1] == '\n' {
		buf = buf[:len(buf)-1]
	}
	return string(buf), nil
}

func (t *Transport) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(t.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}

// contextErr is ctx.Err, but also reports an expired deadline whose timer has
// not fired yet.
func contextErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	return nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
