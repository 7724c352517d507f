package chat

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"tcpchat/internal/protocol"
)

const (
	dialTimeout    = 2 * time.Second
	messageTimeout = 2 * time.Second
)

type testClient struct {
	conn net.Conn
	dec  *protocol.Decoder
}

func startTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	cfg.Port = "0"
	if cfg.Nickname == "" {
		cfg.Nickname = "Op"
	}

	srv := NewServer(cfg, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Start(ctx); err != nil {
			t.Errorf("server: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	srv.Addr() // block until listening
	return srv
}

func dialTestClient(t *testing.T, srv *Server) *testClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", srv.Addr(), dialTimeout)
	require.NoError(t, err, "could not connect to server")
	t.Cleanup(func() { conn.Close() })

	return &testClient{conn: conn, dec: protocol.NewDecoder(conn)}
}

func (c *testClient) join(t *testing.T, nick string) {
	t.Helper()
	_, err := c.conn.Write([]byte(nick + "\n"))
	require.NoError(t, err)
}

func (c *testClient) sendChat(t *testing.T, text string) {
	t.Helper()
	frame, err := protocol.EncodeChat(protocol.ChatMessage{Text: text, Time: time.Now()})
	require.NoError(t, err)
	_, err = c.conn.Write(frame)
	require.NoError(t, err)
}

func (c *testClient) sendPrivate(t *testing.T, to, text string) {
	t.Helper()
	frame, err := protocol.EncodePrivate(protocol.PrivateMessage{To: to, Text: text, Time: time.Now()})
	require.NoError(t, err)
	_, err = c.conn.Write(frame)
	require.NoError(t, err)
}

// expect reads frames until one satisfies match or the timeout expires.
func (c *testClient) expect(t *testing.T, what string, match func(protocol.Frame) bool) protocol.Frame {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(messageTimeout))

	for {
		frame, err := c.dec.Next()
		require.NoError(t, err, "waiting for %s", what)
		if match(frame) {
			return frame
		}
	}
}

func (c *testClient) expectText(t *testing.T, contains string) protocol.Frame {
	t.Helper()
	return c.expect(t, contains, func(f protocol.Frame) bool {
		return f.Kind == protocol.KindChat && strings.Contains(f.Chat.Text, contains)
	})
}

func (c *testClient) expectToken(t *testing.T, token string) {
	t.Helper()
	c.expect(t, token, func(f protocol.Frame) bool {
		return f.Kind == protocol.KindControl && f.Token == token
	})
}

func TestJoinAnnouncement(t *testing.T) {
	srv := startTestServer(t, Config{})

	alice := dialTestClient(t, srv)
	alice.join(t, "alice")

	bob := dialTestClient(t, srv)
	bob.join(t, "bob")

	frame := alice.expectText(t, "bob")
	require.True(t, frame.Chat.System)
	require.Contains(t, frame.Chat.Text, "joined the chat")
}

func TestChatBroadcastCarriesRegisteredIdentity(t *testing.T) {
	srv := startTestServer(t, Config{})

	alice := dialTestClient(t, srv)
	alice.join(t, "alice")
	bob := dialTestClient(t, srv)
	bob.join(t, "bob")
	alice.expectText(t, "bob")

	alice.sendChat(t, "hello everyone")

	frame := bob.expectText(t, "hello everyone")
	require.Equal(t, "alice", frame.Chat.Sender, "server stamps the registered nickname")
	require.NotEmpty(t, frame.Chat.IP)
}

func TestPrivateMessageRoundTrip(t *testing.T) {
	srv := startTestServer(t, Config{})

	alice := dialTestClient(t, srv)
	alice.join(t, "alice")
	bob := dialTestClient(t, srv)
	bob.join(t, "bob")
	alice.expectText(t, "bob")

	alice.sendPrivate(t, "bob", "psst, bob")

	frame := bob.expect(t, "private message", func(f protocol.Frame) bool {
		return f.Kind == protocol.KindPrivate
	})
	require.Equal(t, "alice", frame.Private.From)
	require.Equal(t, "psst, bob", frame.Private.Text)

	ack := alice.expectText(t, "delivered")
	require.True(t, ack.Chat.System)
}

func TestPrivateMessageToAbsentUser(t *testing.T) {
	srv := startTestServer(t, Config{})

	alice := dialTestClient(t, srv)
	alice.join(t, "alice")

	alice.sendPrivate(t, "nobody", "hello?")
	ack := alice.expectText(t, "not found")
	require.True(t, ack.Chat.System)
}

func TestLeaveAnnouncement(t *testing.T) {
	srv := startTestServer(t, Config{})

	alice := dialTestClient(t, srv)
	alice.join(t, "alice")
	bob := dialTestClient(t, srv)
	bob.join(t, "bob")
	alice.expectText(t, "bob")

	bob.conn.Close()

	frame := alice.expectText(t, "has left the chat")
	require.Contains(t, frame.Chat.Text, "bob")
}

func TestOperatorKick(t *testing.T) {
	srv := startTestServer(t, Config{})

	bob := dialTestClient(t, srv)
	bob.join(t, "bob")
	bob.expectText(t, "joined the chat")

	srv.HandleInput("/kick bob")

	bob.expectToken(t, protocol.TokenKick)
}

func TestBanRejectsReconnect(t *testing.T) {
	srv := startTestServer(t, Config{})

	mallory := dialTestClient(t, srv)
	mallory.join(t, "mallory")
	mallory.expectText(t, "joined the chat")

	srv.HandleInput("/ban mallory")
	mallory.expectToken(t, protocol.TokenKick)

	// Same address, different nickname: rejected at handshake with the
	// BAN token and no entry created.
	again := dialTestClient(t, srv)
	again.join(t, "innocent")
	again.expectToken(t, protocol.TokenBan)
}

func TestDuplicateNicknameRejected(t *testing.T) {
	srv := startTestServer(t, Config{})

	first := dialTestClient(t, srv)
	first.join(t, "alice")
	first.expectText(t, "joined the chat")

	second := dialTestClient(t, srv)
	second.join(t, "ALICE")
	notice := second.expectText(t, "already in use")
	require.True(t, notice.Chat.System)
}

func TestUnparseableFrameKeepsConnection(t *testing.T) {
	srv := startTestServer(t, Config{})

	alice := dialTestClient(t, srv)
	alice.join(t, "alice")
	bob := dialTestClient(t, srv)
	bob.join(t, "bob")
	alice.expectText(t, "bob")

	// Garbage must not drop the session; the next frame still routes.
	_, err := alice.conn.Write([]byte("!!not a frame!!\n"))
	require.NoError(t, err)
	alice.sendChat(t, "still here")

	bob.expectText(t, "still here")
}

func TestIdleTimeoutDisconnects(t *testing.T) {
	srv := startTestServer(t, Config{IdleTimeout: 150 * time.Millisecond})

	alice := dialTestClient(t, srv)
	alice.join(t, "alice")
	bob := dialTestClient(t, srv)
	bob.join(t, "bob")
	alice.expectText(t, "bob")

	// bob goes quiet; alice keeps the connection warm and sees the leave.
	deadline := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(deadline) {
		alice.sendChat(t, "ping")
		time.Sleep(50 * time.Millisecond)
	}

	alice.expectText(t, "bob has left the chat")
}
