// Package source receives chat messages and routes recognized trade signals to the dispatcher.
package source

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/tathienbao/signal-trader/internal/metrics"
	"github.com/tathienbao/signal-trader/internal/parser"
	"github.com/tathienbao/signal-trader/internal/types"
)

// Message is a chat message as delivered by a source.
type Message struct {
	Author     string    `json:"author"`
	ChannelID  string    `json:"channel_id"`
	Content    string    `json:"content"`
	ReceivedAt time.Time `json:"-"`
}

// Source delivers messages to a Router until ctx is canceled.
type Source interface {
	Name() string
	Run(ctx context.Context, router *Router) error
}

// Filter accepts messages from configured channels whose author name contains
// one of the tracked user names, case-insensitively.
type Filter struct {
	channels map[string]bool
	users    []string
}

// NewFilter creates a filter. Empty channel or user lists accept nothing.
func NewFilter(channelIDs, trackedUsers []string) Filter {
	f := Filter{channels: make(map[string]bool, len(channelIDs))}
	for _, id := range channelIDs {
		if id = strings.TrimSpace(id); id != "" {
			f.channels[id] = true
		}
	}
	for _, u := range trackedUsers {
		if u = strings.ToLower(strings.TrimSpace(u)); u != "" {
			f.users = append(f.users, u)
		}
	}
	return f
}

// Accept reports whether m passes both the channel and author checks.
func (f Filter) Accept(m Message) bool {
	if !f.channels[m.ChannelID] {
		return false
	}
	author := strings.ToLower(m.Author)
	for _, u := range f.users {
		if strings.Contains(author, u) {
			return true
		}
	}
	return false
}

// Router filters and parses messages and forwards recognized signals.
type Router struct {
	filter   Filter
	out      chan<- types.SignalEnvelope
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// NewRouter creates a router sending to out.
func NewRouter(filter Filter, out chan<- types.SignalEnvelope, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		filter:   filter,
		out:      out,
		recorder: metrics.NewRecorder(),
		logger:   logger,
	}
}

// Route forwards m as a signal if it is accepted and parses. It blocks until the
// dispatcher takes the signal or ctx is done, and reports whether a signal was sent.
func (r *Router) Route(ctx context.Context, source string, m Message) bool {
	if !r.filter.Accept(m) {
		return false
	}

	sig, ok := parser.Parse(m.Content)
	if !ok {
		r.logger.Warn("unrecognized signal",
			"source", source,
			"author", m.Author,
			"channel_id", m.ChannelID,
			"content", m.Content,
		)
		r.recorder.RecordUnrecognized(source)
		return false
	}

	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now()
	}
	env := types.SignalEnvelope{
		Author:     m.Author,
		ChannelID:  m.ChannelID,
		Signal:     sig,
		ReceivedAt: m.ReceivedAt,
	}

	r.logger.Info("signal received",
		"source", source,
		"author", m.Author,
		"signal", sig.String(),
	)
	r.recorder.RecordSignal(source, sig.Kind.String())

	select {
	case r.out <- env:
		return true
	case <-ctx.Done():
		return false
	}
}
