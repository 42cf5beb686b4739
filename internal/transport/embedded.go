package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultOutboundSize bounds the embedded outbound channel. The shell's web
// view drains it; a stalled view drops pushes rather than blocking handlers.
const DefaultOutboundSize = 256

// Embedded is the in-process transport used when the backend runs inside the
// native shell. There is one logical peer: the shell's web view. Incoming
// payloads arrive through HandleMessage on the shell's thread; outgoing
// envelopes leave through a bounded channel the shell drains.
type Embedded struct {
	logger *slog.Logger

	mu      sync.Mutex
	handler MessageHandler
	started bool

	outbound chan []byte
}

// NewEmbedded builds the embedded transport. size <= 0 selects the default
// outbound capacity.
func NewEmbedded(size int, logger *slog.Logger) *Embedded {
	if size <= 0 {
		size = DefaultOutboundSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedded{
		logger:   logger.With("component", "transport", "mode", "embedded"),
		outbound: make(chan []byte, size),
	}
}

func (e *Embedded) SetMessageHandler(fn MessageHandler) {
	e.mu.Lock()
	e.handler = fn
	e.mu.Unlock()
}

func (e *Embedded) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handler == nil {
		return errors.New("embedded transport started without a message handler")
	}
	e.started = true
	e.logger.Info("embedded transport started")
	return nil
}

func (e *Embedded) Stop() error {
	e.mu.Lock()
	e.started = false
	e.mu.Unlock()
	e.logger.Info("embedded transport stopped")
	return nil
}

// Connected reports true while started: the embedded peer is the process
// itself.
func (e *Embedded) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// HandleMessage is the shell's entry point: one payload in, one optional
// reply out. Background handler results come back later via SendToFrontend.
func (e *Embedded) HandleMessage(ctx context.Context, raw []byte) []byte {
	e.mu.Lock()
	fn := e.handler
	e.mu.Unlock()
	if fn == nil {
		e.logger.Error("message received before handler installed")
		return nil
	}
	return fn(ctx, raw)
}

// SendToFrontend serializes msg into the outbound channel. A full channel
// drops the message; the shell is expected to keep up.
func (e *Embedded) SendToFrontend(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	select {
	case e.outbound <- data:
		return nil
	default:
		e.logger.Warn("outbound channel full, dropping message")
		return errors.New("outbound channel full")
	}
}

// Outbound returns the channel the shell drains for server-initiated
// envelopes and deferred background results.
func (e *Embedded) Outbound() <-chan []byte {
	return e.outbound
}

var _ Transport = (*Embedded)(nil)
