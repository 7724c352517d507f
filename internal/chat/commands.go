package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tcpchat/internal/console"
	"tcpchat/internal/protocol"
	"tcpchat/internal/registry"
)

// CommandFunc handles one operator command.
type CommandFunc func(p *Processor, args []string) error

// Processor interprets the operator console: administrative commands and
// plain chat lines broadcast under the operator's nickname.
type Processor struct {
	nickname string
	addr     string
	reg      *registry.Registry
	router   *Router
	commands map[string]CommandFunc
	quit     func()
	log      zerolog.Logger
}

func NewProcessor(nickname, addr string, reg *registry.Registry, router *Router, quit func(), log zerolog.Logger) *Processor {
	p := &Processor{
		nickname: nickname,
		addr:     addr,
		reg:      reg,
		router:   router,
		quit:     quit,
		log:      log.With().Str("component", "commands").Logger(),
	}
	p.registerCommands()
	return p
}

func (p *Processor) registerCommands() {
	p.commands = map[string]CommandFunc{
		"clients": func(p *Processor, args []string) error {
			entries := p.reg.Snapshot()
			lines := make([]string, 0, len(entries)+1)
			lines = append(lines, fmt.Sprintf("Connected clients (%d):", len(entries)))
			for _, entry := range entries {
				lines = append(lines, fmt.Sprintf("- %s (%s)", entry.Nickname, entry.Address))
			}
			p.notice(strings.Join(lines, "\n"))
			return nil
		},

		"pm": func(p *Processor, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("usage: /pm <nick> <message>")
			}
			pm := protocol.PrivateMessage{
				From: p.nickname,
				To:   args[0],
				Text: strings.Join(args[1:], " "),
				Time: time.Now(),
			}
			if !p.router.Private(pm) {
				return fmt.Errorf("user %s not found", pm.To)
			}
			p.router.Emit(console.PrivateEvent(pm))
			return nil
		},

		"kick": func(p *Processor, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: /kick <nick|addr>")
			}
			return p.disconnect(args[0], protocol.TokenKick)
		},

		"ban": func(p *Processor, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: /ban <nick|addr>")
			}
			target := args[0]
			entry, ok := p.reg.FindByTarget(target)
			if !ok {
				return fmt.Errorf("user %s not found", target)
			}
			p.reg.Ban(entry.Address)
			if err := p.disconnect(target, protocol.TokenKick); err != nil {
				return err
			}
			p.notice(fmt.Sprintf("%s (%s) is banned", entry.Nickname, entry.Address))
			return nil
		},

		"exit": func(p *Processor, args []string) error {
			p.quit()
			return nil
		},
	}
}

// disconnect sends a control token to the matched session, removes it from
// the registry and closes its transport.
func (p *Processor) disconnect(target, token string) error {
	entry, ok := p.reg.FindByTarget(target)
	if !ok {
		return fmt.Errorf("user %s not found", target)
	}

	if err := entry.Peer.Send(protocol.EncodeControl(token)); err != nil {
		p.log.Warn().Err(err).Str("target", target).Msg("control token not delivered")
	}
	p.router.Drop(entry.ID)
	entry.Peer.Kill()
	p.notice(fmt.Sprintf("%s was disconnected", entry.Nickname))
	return nil
}

// Handle processes one operator input line: a /command, or plain text
// broadcast as operator chat. Command errors become local notices only.
func (p *Processor) Handle(input string) {
	input = strings.TrimSpace(input)
	if input == "" {
		return
	}

	if !strings.HasPrefix(input, "/") {
		msg := protocol.ChatMessage{
			Sender: p.nickname,
			Text:   input,
			Time:   time.Now(),
			IP:     p.addr,
		}
		p.router.Emit(console.ChatEvent(msg))
		p.router.Broadcast(msg, uuid.Nil)
		return
	}

	parts := strings.Fields(input)
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))

	handler, ok := p.commands[name]
	if !ok {
		p.notice("Unknown command")
		return
	}
	if err := handler(p, parts[1:]); err != nil {
		p.notice(err.Error())
	}
}

func (p *Processor) notice(text string) {
	p.router.Emit(console.NoticeEvent("%s", text))
}
