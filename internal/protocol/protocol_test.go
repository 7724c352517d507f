package protocol

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRoundTrip(t *testing.T) {
	t.Parallel()

	sent := ChatMessage{
		Sender: "alice",
		Text:   "hello, world",
		Time:   time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
		IP:     "10.0.0.7",
	}

	data, err := EncodeChat(sent)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "\n"), "frame must be newline terminated")

	frame, err := Decode(strings.TrimSuffix(string(data), "\n"))
	require.NoError(t, err)
	require.Equal(t, KindChat, frame.Kind)
	assert.Equal(t, sent, *frame.Chat)
}

func TestSystemMessageCarriesNoOrigin(t *testing.T) {
	t.Parallel()

	data, err := EncodeChat(ChatMessage{
		Sender: "System",
		Text:   "alice joined the chat",
		Time:   time.Now(),
		System: true,
	})
	require.NoError(t, err)

	frame, err := Decode(strings.TrimSuffix(string(data), "\n"))
	require.NoError(t, err)
	assert.True(t, frame.Chat.System)
	assert.Empty(t, frame.Chat.IP)
}

func TestPrivateRoundTrip(t *testing.T) {
	t.Parallel()

	sent := PrivateMessage{
		From: "alice",
		To:   "bob",
		Text: "psst",
		Time: time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
	}

	data, err := EncodePrivate(sent)
	require.NoError(t, err)

	frame, err := Decode(strings.TrimSuffix(string(data), "\n"))
	require.NoError(t, err)
	require.Equal(t, KindPrivate, frame.Kind)
	assert.Equal(t, sent, *frame.Private)
}

func TestControlLiteralPrecedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		line  string
		token string
	}{
		{"kick", "/kick", TokenKick},
		{"ban", "/ban", TokenBan},
		{"kick with crlf", "/kick\r", TokenKick},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			frame, err := Decode(tt.line)
			require.NoError(t, err)
			assert.Equal(t, KindControl, frame.Kind)
			assert.Equal(t, tt.token, frame.Token)
		})
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
	}{
		{"not json", "hello there"},
		{"empty", ""},
		{"truncated json", `{"type":"chat","sender":`},
		{"unknown type", `{"type":"presence","sender":"x"}`},
		{"missing type", `{"sender":"x","text":"y"}`},
		{"unrecognized slash command", "/shrug"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Decode(tt.line)
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
		})
	}
}

// chunkReader returns its payload in fixed-size pieces, simulating a TCP
// stream splitting frames across reads.
type chunkReader struct {
	data []byte
	size int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.size
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestDecoderReassemblesSplitReads(t *testing.T) {
	t.Parallel()

	first, err := EncodeChat(ChatMessage{Sender: "alice", Text: "one", Time: time.Now()})
	require.NoError(t, err)
	second, err := EncodePrivate(PrivateMessage{From: "alice", To: "bob", Text: "two", Time: time.Now()})
	require.NoError(t, err)

	// Two frames delivered three bytes at a time: the decoder must still
	// yield exactly two frames, in order.
	dec := NewDecoder(&chunkReader{data: append(first, second...), size: 3})

	frame, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, KindChat, frame.Kind)
	assert.Equal(t, "one", frame.Chat.Text)

	frame, err = dec.Next()
	require.NoError(t, err)
	require.Equal(t, KindPrivate, frame.Kind)
	assert.Equal(t, "two", frame.Private.Text)

	_, err = dec.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestDecoderHandlesCoalescedFrames(t *testing.T) {
	t.Parallel()

	var payload []byte
	for _, text := range []string{"a", "b", "c"} {
		data, err := EncodeChat(ChatMessage{Sender: "alice", Text: text, Time: time.Now()})
		require.NoError(t, err)
		payload = append(payload, data...)
	}

	// All three frames arrive in one read.
	dec := NewDecoder(&chunkReader{data: payload, size: len(payload)})
	for _, want := range []string{"a", "b", "c"} {
		frame, err := dec.Next()
		require.NoError(t, err)
		assert.Equal(t, want, frame.Chat.Text)
	}
}

func TestDecoderRejectsOversizedFrameMidStream(t *testing.T) {
	t.Parallel()

	// A peer that never sends a delimiter must be cut off once the frame
	// cap is reached, not buffered indefinitely.
	flood := strings.Repeat("a", maxFrameSize+4096)
	dec := NewDecoder(&chunkReader{data: []byte(flood), size: 4096})

	_, err := dec.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")

	var perr *ParseError
	assert.False(t, errors.As(err, &perr), "an oversized frame ends the connection")
}

func TestDecoderSurvivesParseError(t *testing.T) {
	t.Parallel()

	good, err := EncodeChat(ChatMessage{Sender: "alice", Text: "after garbage", Time: time.Now()})
	require.NoError(t, err)

	payload := append([]byte("garbage\n"), good...)
	dec := NewDecoder(&chunkReader{data: payload, size: len(payload)})

	_, err = dec.Next()
	var perr *ParseError
	require.ErrorAs(t, err, &perr)

	frame, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "after garbage", frame.Chat.Text)
}
