// Package console is the plain-terminal presentation adapter. The server
// and client cores emit Events over a channel; this package renders them
// and collects line input. The cores never touch the terminal directly.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"tcpchat/internal/protocol"
)

// Event is one thing to display. Exactly one field is set.
type Event struct {
	Chat    *protocol.ChatMessage
	Private *protocol.PrivateMessage
	Notice  string
}

func ChatEvent(msg protocol.ChatMessage) Event { return Event{Chat: &msg} }

func PrivateEvent(pm protocol.PrivateMessage) Event { return Event{Private: &pm} }

func NoticeEvent(format string, args ...any) Event {
	return Event{Notice: fmt.Sprintf(format, args...)}
}

const stampLayout = "2006-01-02 15:04:05"

// Format renders an event as a single display line (or lines, for multi-line
// notices such as history dumps).
func Format(ev Event) string {
	switch {
	case ev.Private != nil:
		pm := ev.Private
		return fmt.Sprintf("[%s][PM %s -> %s]: %s",
			pm.Time.Format(stampLayout), pm.From, pm.To, pm.Text)
	case ev.Chat != nil:
		msg := ev.Chat
		if msg.System {
			return fmt.Sprintf("[%s] %s", msg.Time.Format(stampLayout), msg.Text)
		}
		who := msg.Sender
		if msg.IP != "" {
			who = fmt.Sprintf("%s (%s)", msg.Sender, msg.IP)
		}
		return fmt.Sprintf("[%s][%s]: %s", msg.Time.Format(stampLayout), who, msg.Text)
	default:
		return fmt.Sprintf("[*] %s", ev.Notice)
	}
}

// Run renders events to w until the channel closes or ctx is done.
func Run(ctx context.Context, events <-chan Event, w io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			fmt.Fprintln(w, Format(ev))
		}
	}
}

// ReadLines feeds lines from r into the returned channel. The channel is
// closed on EOF or read error. The goroutine exits with the reader.
func ReadLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// Prompt writes a prompt to w and reads one line from r. Used at startup
// for the nickname and server address when flags are absent.
func Prompt(w io.Writer, r *bufio.Reader, label string) (string, error) {
	fmt.Fprint(w, label)
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return trimEOL(line), nil
}

func trimEOL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
