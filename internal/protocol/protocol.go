// Package protocol defines the wire representation shared by the chat server
// and client: newline-delimited UTF-8 frames carrying either a control token
// or a JSON payload with an explicit type discriminant.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Control tokens, sent server to client only. A token occupies a whole frame
// and is matched literally before any JSON parsing is attempted.
const (
	TokenKick = "/kick"
	TokenBan  = "/ban"
)

// Discriminant values carried in the "type" field of JSON frames.
const (
	typeChat    = "chat"
	typePrivate = "private"
)

// Kind identifies what a decoded frame contains.
type Kind int

const (
	KindChat Kind = iota
	KindPrivate
	KindControl
)

// ChatMessage is a broadcast-visible utterance or a system notice.
// System messages carry no origin address and are rendered distinctly.
type ChatMessage struct {
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
	System bool      `json:"system,omitempty"`
	IP     string    `json:"ip,omitempty"`
}

// PrivateMessage is a directed message between two nicknames.
type PrivateMessage struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// Frame is the result of decoding one wire frame. Exactly one of Chat,
// Private or Token is set, according to Kind.
type Frame struct {
	Kind    Kind
	Chat    *ChatMessage
	Private *PrivateMessage
	Token   string
}

// ParseError reports a frame that could not be decoded. The connection
// stays up; callers surface the error locally and keep reading.
type ParseError struct {
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable frame (%d bytes): %v", len(e.Payload), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type chatEnvelope struct {
	Type string `json:"type"`
	ChatMessage
}

type privateEnvelope struct {
	Type string `json:"type"`
	PrivateMessage
}

// EncodeChat renders a chat message as one wire frame, trailing newline
// included.
func EncodeChat(msg ChatMessage) ([]byte, error) {
	return encode(chatEnvelope{Type: typeChat, ChatMessage: msg})
}

// EncodePrivate renders a private message as one wire frame.
func EncodePrivate(pm PrivateMessage) ([]byte, error) {
	return encode(privateEnvelope{Type: typePrivate, PrivateMessage: pm})
}

// EncodeControl renders a control token as one wire frame.
func EncodeControl(token string) []byte {
	return []byte(token + "\n")
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses one frame (without its trailing newline). Control literals
// take precedence over structured payloads.
func Decode(line string) (Frame, error) {
	line = strings.TrimRight(line, "\r\n")
	switch line {
	case TokenKick, TokenBan:
		return Frame{Kind: KindControl, Token: line}, nil
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(line), &probe); err != nil {
		return Frame{}, &ParseError{Payload: line, Err: err}
	}

	switch probe.Type {
	case typeChat:
		var env chatEnvelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			return Frame{}, &ParseError{Payload: line, Err: err}
		}
		return Frame{Kind: KindChat, Chat: &env.ChatMessage}, nil
	case typePrivate:
		var env privateEnvelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			return Frame{}, &ParseError{Payload: line, Err: err}
		}
		return Frame{Kind: KindPrivate, Private: &env.PrivateMessage}, nil
	default:
		return Frame{}, &ParseError{Payload: line, Err: fmt.Errorf("unknown frame type %q", probe.Type)}
	}
}
