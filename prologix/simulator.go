package prologix

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
)

// SimulatorVersion is the banner returned for ++ver.
const SimulatorVersion = "Prologix GPIB-ETHERNET Controller version 01.06.06.00 (simulated)"

// Responder produces the reply of the device at addr to a read request. last is
// the most recent command written to that device. Returning ok=false leaves the
// read unanswered, which looks like a stalled instrument to the client.
type Responder func(addr int, last string) (reply string, ok bool)

// StaticResponder answers every read with the same reply.
func StaticResponder(reply string) Responder {
	return func(int, string) (string, bool) {
		return reply, true
	}
}

// Frame is one decoded line received by the simulator.
type Frame struct {
	Addr      int
	Directive bool
	Text      string
}

func (f Frame) String() string {
	if f.Directive {
		return f.Text
	}
	return fmt.Sprintf("@%d %q", f.Addr, f.Text)
}

// Simulator is an in-process stand-in for the GPIB-ETHERNET bridge. It decodes
// the controller protocol, records what it receives and answers reads with a
// Responder.
type Simulator struct {
	ln      net.Listener
	respond Responder
	logger  *slog.Logger

	mx      sync.Mutex
	frames  []Frame
	conns   int
	active  map[net.Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

type SimulatorOption func(*Simulator)

func WithSimulatorLogger(logger *slog.Logger) SimulatorOption {
	return func(s *Simulator) {
		s.logger = logger
	}
}

// StartSimulator listens on addr (e.g. "127.0.0.1:0") and serves connections
// until Close is called.
func StartSimulator(addr string, respond Responder, opts ...SimulatorOption) (*Simulator, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("simulator listen on %s: %w", addr, err)
	}
	s := &Simulator{
		ln:      ln,
		respond: respond,
		logger:  slog.Default(),
		active:  make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listening address as host:port.
func (s *Simulator) Addr() string {
	return s.ln.Addr().String()
}

// HostPort splits Addr for use with NewController and WithPort.
func (s *Simulator) HostPort() (string, int) {
	host, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return host, p
}

// Frames returns a copy of everything received so far.
func (s *Simulator) Frames() []Frame {
	s.mx.Lock()
	defer s.mx.Unlock()
	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Commands returns the device commands (not directives) received so far.
func (s *Simulator) Commands() []Frame {
	var out []Frame
	for _, f := range s.Frames() {
		if !f.Directive {
			out = append(out, f)
		}
	}
	return out
}

// Connections returns the number of accepted connections.
func (s *Simulator) Connections() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.conns
}

// Serve blocks until ctx is done, then closes the simulator.
func (s *Simulator) Serve(ctx context.Context) error {
	<-ctx.Done()
	return s.Close()
}

func (s *Simulator) Close() error {
	err := s.ln.Close()
	s.mx.Lock()
	s.closing = true
	for conn := range s.active {
		_ = conn.Close()
	}
	s.mx.Unlock()
	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Simulator) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mx.Lock()
		if s.closing {
			s.mx.Unlock()
			_ = conn.Close()
			return
		}
		s.conns++
		s.active[conn] = struct{}{}
		s.mx.Unlock()
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Simulator) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mx.Lock()
		delete(s.active, conn)
		s.mx.Unlock()
		_ = conn.Close()
	}()
	r := bufio.NewReader(conn)
	addr := -1
	last := make(map[int]string)
	for {
		text, directive, err := readFrame(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("simulator connection ended", "error", err)
			}
			return
		}
		if directive {
			if strings.HasPrefix(text, "++addr ") {
				if n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(text, "++addr "))); err == nil {
					addr = n
				}
			}
		} else {
			last[addr] = text
		}
		s.mx.Lock()
		s.frames = append(s.frames, Frame{Addr: addr, Directive: directive, Text: text})
		s.mx.Unlock()
		if !directive {
			continue
		}
		var reply string
		switch {
		case text == "++read" || strings.HasPrefix(text, "++read "):
			var ok bool
			reply, ok = s.respond(addr, last[addr])
			if !ok {
				continue
			}
		case text == "++ver":
			reply = SimulatorVersion
		default:
			continue
		}
		if !strings.HasSuffix(reply, "\n") {
			reply += "\n"
		}
		if _, err := io.WriteString(conn, reply); err != nil {
			return
		}
	}
}

// readFrame decodes one line of the controller protocol. Unescaped CR or LF
// ends the line, the escape byte makes the next byte literal and an unescaped
// leading '+' marks a controller directive.
func readFrame(r *bufio.Reader) (string, bool, error) {
	var (
		buf       []byte
		started   bool
		escaped   bool
		directive bool
	)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", false, err
		}
		if escaped {
			buf = append(buf, b)
			escaped = false
			continue
		}
		switch b {
		case escapeChar:
			escaped = true
			started = true
		case '\n', '\r':
			if !started {
				continue
			}
			return string(buf), directive, nil
		default:
			if !started && b == '+' {
				directive = true
			}
			started = true
			buf = append(buf, b)
		}
	}
}
