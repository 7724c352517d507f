// Package client is the chat client core: it joins a server, decodes the
// incoming stream into display events and turns user input lines into
// frames. Presentation is external; the core only fills an event channel.
package client

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
)

// historyLimit bounds the per-counterpart private message cache.
const historyLimit = 200

// Config carries the client knobs.
type Config struct {
	Addr     string
	Port     string
	Nickname string
}

// Client is one joined session. Run drives the receive loop; Submit is
// called by the presentation adapter with each user input line.
type Client struct {
	cfg  Config
	conn net.Conn
	dec  *protocol.Decoder

	eventsMu     sync.Mutex
	events       chan console.Event
	eventsClosed bool

	writeMu sync.Mutex

	histMu  sync.Mutex
	history map[string][]protocol.PrivateMessage

	closeOnce sync.Once
	done      chan struct{}

	log zerolog.Logger
}

// Dial connects to the server and performs the nickname handshake.
func Dial(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.Port == "" {
		cfg.Port = "8888"
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(cfg.Addr, cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("connect to %s:%s: %w", cfg.Addr, cfg.Port, err)
	}

	c := New(conn, cfg, log)
	if _, err := conn.Write([]byte(cfg.Nickname + "\n")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return c, nil
}

// New wraps an established connection. Dial is the usual entry point; New
// exists so the core can run over any transport, pipes included.
func New(conn net.Conn, cfg Config, log zerolog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		conn:    conn,
		dec:     protocol.NewDecoder(conn),
		events:  make(chan console.Event, 64),
		history: make(map[string][]protocol.PrivateMessage),
		done:    make(chan struct{}),
		log:     log.With().Str("component", "client").Logger(),
	}
}

// Events is the display stream consumed by the presentation adapter. It is
// closed when the session ends.
func (c *Client) Events() <-chan console.Event { return c.events }

// Done is closed when the session ends, whichever side ended it.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close tears the session down. Safe to call from any goroutine and more
// than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Run decodes incoming frames until the server disconnects, a control
// token arrives or ctx is done. The events channel is closed on return.
func (c *Client) Run(ctx context.Context) error {
	defer c.closeEvents()
	defer c.Close()

	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	for {
		frame, err := c.dec.Next()
		if err != nil {
			var perr *protocol.ParseError
			if errors.As(err, &perr) {
				c.emit(console.NoticeEvent("Unreadable message from server: %v", perr))
				continue
			}
			select {
			case <-c.done:
				return nil
			default:
			}
			c.emit(console.NoticeEvent("Connection lost"))
			return fmt.Errorf("receive: %w", err)
		}
		if done := c.handleFrame(frame); done {
			return nil
		}
	}
}

func (c *Client) handleFrame(frame protocol.Frame) bool {
	switch frame.Kind {
	case protocol.KindControl:
		switch frame.Token {
		case protocol.TokenKick:
			c.emit(console.NoticeEvent("You were disconnected by the server"))
		case protocol.TokenBan:
			c.emit(console.NoticeEvent("You are banned from this server"))
		}
		c.Close()
		return true

	case protocol.KindPrivate:
		pm := *frame.Private
		c.emit(console.PrivateEvent(pm))
		c.remember(pm.From, pm)

	case protocol.KindChat:
		msg := *frame.Chat
		// The server excludes the originator from chat fan-out, but an own
		// message echoed back is still not worth displaying twice.
		if !msg.System && strings.EqualFold(msg.Sender, c.cfg.Nickname) {
			return false
		}
		c.emit(console.ChatEvent(msg))
	}
	return false
}

// Submit processes one user input line: a /command or plain chat text.
func (c *Client) Submit(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if strings.HasPrefix(line, "/") {
		c.command(line)
		return
	}

	msg := protocol.ChatMessage{Sender: c.cfg.Nickname, Text: line, Time: time.Now()}
	frame, err := protocol.EncodeChat(msg)
	if err != nil {
		c.emit(console.NoticeEvent("Could not encode message: %v", err))
		return
	}
	if err := c.send(frame); err != nil {
		c.emit(console.NoticeEvent("Send failed: %v", err))
		return
	}
	c.emit(console.ChatEvent(msg))
}

func (c *Client) command(line string) {
	parts := strings.Fields(line)
	switch strings.ToLower(parts[0]) {
	case "/pm":
		if len(parts) < 3 {
			c.emit(console.NoticeEvent("usage: /pm <nick> <message>"))
			return
		}
		c.sendPrivate(parts[1], strings.Join(parts[2:], " "))

	case "/history":
		if len(parts) < 2 {
			c.emit(console.NoticeEvent("usage: /history <nick>"))
			return
		}
		c.showHistory(parts[1])

	case "/exit":
		c.Close()

	default:
		c.emit(console.NoticeEvent("Unknown command"))
	}
}

func (c *Client) sendPrivate(to, text string) {
	pm := protocol.PrivateMessage{
		From: c.cfg.Nickname,
		To:   to,
		Text: text,
		Time: time.Now(),
	}
	frame, err := protocol.EncodePrivate(pm)
	if err != nil {
		c.emit(console.NoticeEvent("Could not encode message: %v", err))
		return
	}
	if err := c.send(frame); err != nil {
		c.emit(console.NoticeEvent("Send failed: %v", err))
		return
	}
	c.remember(to, pm)
	c.emit(console.PrivateEvent(pm))
}

func (c *Client) showHistory(nick string) {
	history := c.History(nick)
	if len(history) == 0 {
		c.emit(console.NoticeEvent("No history with %s", nick))
		return
	}

	lines := make([]string, 0, len(history)+1)
	lines = append(lines, fmt.Sprintf("History with %s:", nick))
	for _, pm := range history {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", pm.Time.Format("15:04"), pm.From, pm.Text))
	}
	c.emit(console.NoticeEvent("%s", strings.Join(lines, "\n")))
}

// History returns the cached private messages exchanged with nick, oldest
// first. The cache lives and dies with the session.
func (c *Client) History(nick string) []protocol.PrivateMessage {
	c.histMu.Lock()
	defer c.histMu.Unlock()

	cached := c.history[strings.ToLower(nick)]
	out := make([]protocol.PrivateMessage, len(cached))
	copy(out, cached)
	return out
}

func (c *Client) remember(counterpart string, pm protocol.PrivateMessage) {
	key := strings.ToLower(counterpart)

	c.histMu.Lock()
	defer c.histMu.Unlock()

	cached := append(c.history[key], pm)
	if len(cached) > historyLimit {
		cached = cached[len(cached)-historyLimit:]
	}
	c.history[key] = cached
}

func (c *Client) send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(frame)
	return err
}

// emit hands an event to the presentation adapter. Late input may arrive
// after the session ended (the stdin goroutine and the TUI keep running
// until they observe the end), so a send after closeEvents is a no-op
// rather than a send on a closed channel.
func (c *Client) emit(ev console.Event) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()

	if c.eventsClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.log.Debug().Msg("display event dropped")
	}
}

func (c *Client) closeEvents() {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()

	if !c.eventsClosed {
		c.eventsClosed = true
		close(c.events)
	}
}
