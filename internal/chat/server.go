// Package chat is the server core: the session lifecycle, the routing
// engine and the operator command processor, wired around a shared
// participant registry.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tcpchat/internal/console"
	"tcpchat/internal/protocol"
	"tcpchat/internal/registry"
)

// DefaultPort is the well-known chat port.
const DefaultPort = "8888"

// Config carries the server knobs. IdleTimeout zero means connections may
// stay idle forever, matching the historical behavior.
type Config struct {
	Port        string
	Nickname    string
	IdleTimeout time.Duration
}

// Server accepts connections, runs one session goroutine per client and
// owns the operator console processor.
type Server struct {
	cfg    Config
	reg    *registry.Registry
	router *Router
	proc   *Processor
	events chan console.Event

	mu    sync.Mutex
	addr  string
	ready chan struct{}

	wg  sync.WaitGroup
	log zerolog.Logger
}

func NewServer(cfg Config, log zerolog.Logger) *Server {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}

	events := make(chan console.Event, 64)
	reg := registry.New()
	return &Server{
		cfg:    cfg,
		reg:    reg,
		router: NewRouter(reg, events, log),
		events: events,
		ready:  make(chan struct{}),
		log:    log.With().Str("component", "server").Logger(),
	}
}

// Events is the display stream consumed by the presentation adapter.
func (s *Server) Events() <-chan console.Event { return s.events }

// Addr reports the bound listen address once the server is ready.
func (s *Server) Addr() string {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds the listen port and accepts connections until ctx is
// canceled or /exit is issued. It returns only fatal startup errors;
// per-connection failures never escape their session goroutine.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listener, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		return fmt.Errorf("bind port %s: %w", s.cfg.Port, err)
	}

	s.mu.Lock()
	s.addr = listener.Addr().String()
	s.mu.Unlock()

	host := "127.0.0.1"
	if h, _, err := net.SplitHostPort(s.addr); err == nil && h != "::" && h != "" {
		host = h
	}
	s.proc = NewProcessor(s.cfg.Nickname, host, s.reg, s.router, cancel, s.log)
	close(s.ready)

	s.log.Info().Str("addr", s.addr).Msg("listening")
	s.router.Emit(console.NoticeEvent("Listening on %s", s.addr))

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}

	// Shutdown: force every session through the normal Closing path.
	for _, entry := range s.reg.Snapshot() {
		entry.Peer.Kill()
	}
	s.wg.Wait()
	s.log.Info().Msg("server stopped")
	return nil
}

// HandleInput processes one operator console line.
func (s *Server) HandleInput(line string) {
	<-s.ready
	s.proc.Handle(line)
}

// RunConsole feeds operator input into the command processor until the
// line source closes or ctx is done.
func (s *Server) RunConsole(ctx context.Context, lines <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			s.HandleInput(line)
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	sess := newSession(conn, s.log)
	stop := context.AfterFunc(ctx, sess.Kill)
	defer stop()
	defer s.teardown(sess)

	sess.setState(StateHandshaking)
	s.applyDeadline(sess)

	nickname, err := sess.dec.ReadLine()
	if err != nil {
		sess.log.Debug().Err(err).Msg("handshake read failed")
		return
	}
	nickname = strings.TrimSpace(nickname)
	if err := validateNickname(nickname); err != nil {
		sess.sendSystem(fmt.Sprintf("Invalid nickname: %v", err))
		return
	}

	if _, err := s.reg.Register(sess.id, sess.addr, nickname, sess); err != nil {
		switch {
		case errors.Is(err, registry.ErrBanned):
			sess.log.Info().Str("nick", nickname).Msg("banned address rejected")
			sess.Send(protocol.EncodeControl(protocol.TokenBan))
		case errors.Is(err, registry.ErrNickTaken):
			sess.sendSystem(fmt.Sprintf("Nickname %s is already in use", nickname))
		}
		return
	}

	sess.nickname = nickname
	sess.log = sess.log.With().Str("nick", nickname).Logger()
	sess.setState(StateActive)
	sess.log.Info().Msg("session registered")
	s.router.System(fmt.Sprintf("%s (%s) joined the chat", nickname, sess.addr))

	s.readLoop(sess)
}

// readLoop decodes frames until the transport fails or closes. Parse
// errors are survivable; everything else ends the session.
func (s *Server) readLoop(sess *Session) {
	for {
		s.applyDeadline(sess)

		frame, err := sess.dec.Next()
		if err != nil {
			var perr *protocol.ParseError
			if errors.As(err, &perr) {
				sess.log.Warn().Err(perr).Msg("discarding unparseable frame")
				continue
			}
			sess.log.Debug().Err(err).Msg("read loop done")
			return
		}

		switch frame.Kind {
		case protocol.KindChat:
			// Re-stamp with the registered identity and server clock so a
			// client cannot impersonate another sender.
			msg := protocol.ChatMessage{
				Sender: sess.nickname,
				Text:   frame.Chat.Text,
				Time:   time.Now(),
				IP:     sess.addr,
			}
			s.router.Emit(console.ChatEvent(msg))
			s.router.Broadcast(msg, sess.id)
		case protocol.KindPrivate:
			s.routePrivate(sess, *frame.Private)
		case protocol.KindControl:
			sess.log.Warn().Str("token", frame.Token).Msg("ignoring client control token")
		}
	}
}

func (s *Server) routePrivate(sess *Session, pm protocol.PrivateMessage) {
	pm.From = sess.nickname
	if pm.Time.IsZero() {
		pm.Time = time.Now()
	}

	if s.router.Private(pm) {
		sess.sendSystem(fmt.Sprintf("Message for %s delivered", pm.To))
	} else {
		sess.sendSystem(fmt.Sprintf("User %s not found", pm.To))
	}
}

// teardown runs the Closing -> Closed transition exactly once, whichever
// trigger fired first.
func (s *Server) teardown(sess *Session) {
	sess.downOnce.Do(func() {
		sess.setState(StateClosing)
		if entry := s.router.Drop(sess.id); entry != nil {
			sess.log.Info().Msg("session unregistered")
		}
		sess.conn.Close()
		sess.setState(StateClosed)
	})
}

func (s *Server) applyDeadline(sess *Session) {
	if s.cfg.IdleTimeout > 0 {
		sess.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	}
}

func validateNickname(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) < 2 {
		return fmt.Errorf("name too short (minimum 2 characters)")
	}
	if len(name) > 20 {
		return fmt.Errorf("name too long (maximum 20 characters)")
	}
	return nil
}
