package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"
)

// TelegramConfig holds configuration for Telegram alerter.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Timeout  time.Duration
	// APIURL overrides https://api.telegram.org.
	APIURL string
}

// TelegramAlerter sends alerts via Telegram.
type TelegramAlerter struct {
	cfg    TelegramConfig
	client *http.Client
}

// NewTelegramAlerter creates a new Telegram alerter.
func NewTelegramAlerter(cfg TelegramConfig) *TelegramAlerter {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.telegram.org"
	}

	return &TelegramAlerter{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name returns the name of the alerter.
func (t *TelegramAlerter) Name() string {
	return "telegram"
}

// telegramMessage represents the Telegram API message format.
type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// telegramResponse represents the Telegram API response.
type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Send delivers the alert as an HTML message. The daily summary is sent preformatted.
func (t *TelegramAlerter) Send(ctx context.Context, a Alert) error {
	if a.Event == EventDailySummary {
		return t.send(ctx, formatDailySummary(a))
	}
	return t.send(ctx, formatMessage(a))
}

func (t *TelegramAlerter) send(ctx context.Context, text string) error {
	body, err := json.Marshal(telegramMessage{
		ChatID:    t.cfg.ChatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.cfg.APIURL, "/"), t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var telegramResp telegramResponse
	if err := json.Unmarshal(respBody, &telegramResp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	if !telegramResp.OK {
		return fmt.Errorf("telegram API error: %s", telegramResp.Description)
	}

	return nil
}

func formatMessage(a Alert) string {
	text := fmt.Sprintf("%s <b>%s</b>", a.Severity.Emoji(), html.EscapeString(a.Event.Title()))
	if a.Message != "" && a.Message != a.Event.Title() {
		text += "\n" + html.EscapeString(a.Message)
	}

	if fieldsStr := FormatFields(a.Fields...); fieldsStr != "" {
		text += "\n\n" + html.EscapeString(fieldsStr)
	}

	return text + fmt.Sprintf("\n\n<i>%s</i>", a.Time.Format("2006-01-02 15:04:05 MST"))
}

func formatDailySummary(a Alert) string {
	return fmt.Sprintf("📊 <b>%s</b>\n<pre>%s</pre>", a.Event.Title(), html.EscapeString(a.Message))
}
