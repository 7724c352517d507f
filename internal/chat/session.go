package chat

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tcpchat/internal/protocol"
)

// State is a session's position in the connection lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session owns one live connection: its transport, decode state and send
// path. The read loop is the sole writer of state; Send may be called from
// any goroutine and serializes writers so frames never interleave.
type Session struct {
	id       uuid.UUID
	nickname string
	addr     string
	conn     net.Conn
	dec      *protocol.Decoder
	state    atomic.Int32
	writeMu  sync.Mutex
	downOnce sync.Once
	log      zerolog.Logger
}

func newSession(conn net.Conn, log zerolog.Logger) *Session {
	addr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}

	id := uuid.New()
	return &Session{
		id:   id,
		addr: addr,
		conn: conn,
		dec:  protocol.NewDecoder(conn),
		log:  log.With().Stringer("session", id).Str("addr", addr).Logger(),
	}
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) setState(next State) {
	s.state.Store(int32(next))
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Send writes one encoded frame to the transport. Concurrent senders are
// serialized; a write error means the peer is gone.
func (s *Session) Send(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("send to %s: %w", s.addr, err)
	}
	return nil
}

// Kill closes the transport. The read loop observes the closed connection
// and runs the normal teardown path.
func (s *Session) Kill() {
	s.conn.Close()
}

func (s *Session) sendSystem(text string) error {
	frame, err := protocol.EncodeChat(protocol.ChatMessage{
		Sender: systemSender,
		Text:   text,
		Time:   time.Now(),
		System: true,
	})
	if err != nil {
		return err
	}
	return s.Send(frame)
}
