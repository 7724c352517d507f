package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tcpchat/internal/console"
	"tcpchat/internal/protocol"
	"tcpchat/internal/registry"
)

const systemSender = "System"

// Router delivers one logical message to its destination set, isolating
// per-recipient failure from the batch.
type Router struct {
	reg    *registry.Registry
	events chan<- console.Event
	log    zerolog.Logger
}

func NewRouter(reg *registry.Registry, events chan<- console.Event, log zerolog.Logger) *Router {
	return &Router{
		reg:    reg,
		events: events,
		log:    log.With().Str("component", "router").Logger(),
	}
}

// Emit hands an event to the presentation adapter. The send never blocks;
// if the renderer is not keeping up the event is dropped.
func (rt *Router) Emit(ev console.Event) {
	select {
	case rt.events <- ev:
	default:
		rt.log.Debug().Msg("display event dropped")
	}
}

// Broadcast fans msg out to every registered session except exclude. A
// failed recipient is removed from the registry and the fan-out continues;
// the error never reaches the sender.
func (rt *Router) Broadcast(msg protocol.ChatMessage, exclude uuid.UUID) {
	frame, err := protocol.EncodeChat(msg)
	if err != nil {
		rt.log.Error().Err(err).Msg("broadcast encode failed")
		return
	}

	for _, entry := range rt.reg.Snapshot() {
		if entry.ID == exclude {
			continue
		}
		if err := entry.Peer.Send(frame); err != nil {
			rt.remove(entry, err)
		}
	}
}

// System broadcasts a system notice and displays it locally.
func (rt *Router) System(text string) {
	msg := protocol.ChatMessage{
		Sender: systemSender,
		Text:   text,
		Time:   time.Now(),
		System: true,
	}
	rt.Emit(console.ChatEvent(msg))
	rt.Broadcast(msg, uuid.Nil)
}

// Private delivers pm to the session registered under pm.To and reports
// whether delivery happened. The caller owns the delivered / not-found
// acknowledgment to the sender.
func (rt *Router) Private(pm protocol.PrivateMessage) bool {
	entry, ok := rt.reg.FindByNickname(pm.To)
	if !ok {
		return false
	}

	frame, err := protocol.EncodePrivate(pm)
	if err != nil {
		rt.log.Error().Err(err).Msg("private encode failed")
		return false
	}
	if err := entry.Peer.Send(frame); err != nil {
		rt.remove(entry, err)
		return false
	}
	return true
}

// Drop unregisters a session and, if it was still registered, announces
// the departure. Concurrent callers for the same id race on Unregister,
// so the announcement happens exactly once.
func (rt *Router) Drop(id uuid.UUID) *registry.Entry {
	entry := rt.reg.Unregister(id)
	if entry == nil {
		return nil
	}
	rt.System(fmt.Sprintf("%s has left the chat", entry.Nickname))
	return entry
}

// remove evicts a recipient whose transport failed mid-delivery. No leave
// notice: the peer is already unreachable and its read loop finishes the
// transport cleanup.
func (rt *Router) remove(entry *registry.Entry, err error) {
	rt.log.Warn().Err(err).Str("nick", entry.Nickname).Msg("dropping unreachable session")
	rt.reg.Unregister(entry.ID)
	entry.Peer.Kill()
}
