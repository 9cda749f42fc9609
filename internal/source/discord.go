package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tathienbao/signal-trader/internal/metrics"
)

const (
	// discordWriteWait is the time allowed to write a frame to the gateway.
	discordWriteWait = 10 * time.Second

	// discordReconnectDelay is the base delay before reconnecting.
	discordReconnectDelay = 2 * time.Second

	// discordMaxReconnectDelay caps the exponential backoff.
	discordMaxReconnectDelay = 60 * time.Second

	// DefaultGatewayURL is the Discord gateway endpoint.
	DefaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

	// DefaultIntents is GUILD_MESSAGES | MESSAGE_CONTENT.
	DefaultIntents = 1<<9 | 1<<15
)

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

var errReconnectRequested = errors.New("discord: reconnect requested")

// DiscordConfig configures the gateway listener.
type DiscordConfig struct {
	GatewayURL string
	Token      string
	Intents    int
}

// DiscordGateway listens for MESSAGE_CREATE events on the Discord gateway and
// reconnects with exponential backoff when the session drops.
type DiscordGateway struct {
	cfg      DiscordConfig
	dialer   websocket.Dialer
	recorder *metrics.Recorder
	logger   *slog.Logger

	reconnectDelay time.Duration
}

// NewDiscordGateway creates a gateway listener.
func NewDiscordGateway(cfg DiscordConfig, logger *slog.Logger) *DiscordGateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = DefaultGatewayURL
	}
	if cfg.Intents == 0 {
		cfg.Intents = DefaultIntents
	}

	return &DiscordGateway{
		cfg:            cfg,
		dialer:         websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		recorder:       metrics.NewRecorder(),
		logger:         logger,
		reconnectDelay: discordReconnectDelay,
	}
}

// Name returns the source name.
func (g *DiscordGateway) Name() string {
	return "discord"
}

type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type messageCreate struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    struct {
		Username string `json:"username"`
	} `json:"author"`
}

type readyData struct {
	User struct {
		Username string `json:"username"`
	} `json:"user"`
}

// Run keeps a gateway session open until ctx is canceled.
func (g *DiscordGateway) Run(ctx context.Context, router *Router) error {
	delay := g.reconnectDelay

	for {
		start := time.Now()
		err := g.session(ctx, router)
		g.recorder.RecordSourceStatus(g.Name(), false)

		if ctx.Err() != nil {
			g.logger.Info("discord gateway stopped")
			return nil
		}

		// A session that stayed up for a while resets the backoff.
		if time.Since(start) > discordMaxReconnectDelay {
			delay = g.reconnectDelay
		}

		g.logger.Warn("discord session ended, reconnecting", "err", err, "delay", delay)
		g.recorder.RecordError("discord")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay = min(delay*2, discordMaxReconnectDelay)
	}
}

// session runs one connection: hello, identify, heartbeats and dispatch events.
func (g *DiscordGateway) session(ctx context.Context, router *Router) error {
	conn, _, err := g.dialer.DialContext(ctx, g.cfg.GatewayURL, nil)
	if err != nil {
		return fmt.Errorf("discord: connect: %w", err)
	}
	defer conn.Close()

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock ReadMessage on shutdown.
	go func() {
		<-sessCtx.Done()
		_ = conn.Close()
	}()

	var writeMu sync.Mutex
	write := func(p any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(discordWriteWait))
		return conn.WriteJSON(p)
	}

	var hello gatewayPayload
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("discord: read hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("discord: expected hello, got op %d", hello.Op)
	}
	var hd helloData
	if err := json.Unmarshal(hello.D, &hd); err != nil || hd.HeartbeatInterval <= 0 {
		return fmt.Errorf("discord: invalid hello payload: %s", string(hello.D))
	}

	identify := map[string]any{
		"op": opIdentify,
		"d": identifyData{
			Token:      g.cfg.Token,
			Intents:    g.cfg.Intents,
			Properties: identifyProperties{OS: "linux", Browser: "signal-trader", Device: "signal-trader"},
		},
	}
	if err := write(identify); err != nil {
		return fmt.Errorf("discord: identify: %w", err)
	}

	var (
		seqMu sync.Mutex
		seq   *int64
	)
	heartbeat := func() error {
		seqMu.Lock()
		s := seq
		seqMu.Unlock()
		return write(map[string]any{"op": opHeartbeat, "d": s})
	}

	go func() {
		ticker := time.NewTicker(time.Duration(hd.HeartbeatInterval) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-sessCtx.Done():
				return
			case <-ticker.C:
				if err := heartbeat(); err != nil {
					g.logger.Warn("discord heartbeat failed", "err", err)
					cancel()
					return
				}
			}
		}
	}()

	for {
		var p gatewayPayload
		if err := conn.ReadJSON(&p); err != nil {
			return fmt.Errorf("discord: read: %w", err)
		}
		if p.S != nil {
			seqMu.Lock()
			seq = p.S
			seqMu.Unlock()
		}

		switch p.Op {
		case opDispatch:
			g.dispatch(sessCtx, router, p)
		case opHeartbeat:
			if err := heartbeat(); err != nil {
				return fmt.Errorf("discord: heartbeat: %w", err)
			}
		case opHeartbeatAck:
		case opReconnect:
			return errReconnectRequested
		case opInvalidSession:
			return errors.New("discord: invalid session")
		}
	}
}

func (g *DiscordGateway) dispatch(ctx context.Context, router *Router, p gatewayPayload) {
	switch p.T {
	case "READY":
		var r readyData
		_ = json.Unmarshal(p.D, &r)
		g.logger.Info("discord gateway ready", "user", r.User.Username)
		g.recorder.RecordSourceStatus(g.Name(), true)

	case "MESSAGE_CREATE":
		var m messageCreate
		if err := json.Unmarshal(p.D, &m); err != nil {
			g.logger.Debug("discord message decode failed", "err", err)
			return
		}
		router.Route(ctx, g.Name(), Message{
			Author:     m.Author.Username,
			ChannelID:  m.ChannelID,
			Content:    m.Content,
			ReceivedAt: time.Now(),
		})
	}
}
