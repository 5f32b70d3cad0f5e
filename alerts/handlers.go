package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"github.com/rs/zerolog"

	"scalper/types"
)

// LogHandler is always present; it never fails.
type LogHandler struct {
	log zerolog.Logger
}

// NewLogHandler builds a LogHandler.
func NewLogHandler(log zerolog.Logger) *LogHandler { return &LogHandler{log: log} }

func (h *LogHandler) Name() string { return "log" }

func (h *LogHandler) Handle(a types.Alert) bool {
	evt := h.log.Info()
	switch a.Severity {
	case types.SeverityWarn:
		evt = h.log.Warn()
	case types.SeverityError:
		evt = h.log.Error()
	case types.SeverityCritical:
		evt = h.log.Error()
	}
	evt.Str("kind", a.Kind).Str("alert_id", a.ID).Msg(a.Title + ": " + a.Message)
	return true
}

// WebhookHandler POSTs the alert as JSON; success on 200, 201 or 202.
type WebhookHandler struct {
	url    string
	client *http.Client
}

// NewWebhookHandler builds a WebhookHandler with a bounded per-call timeout
// so a slow endpoint never blocks the dispatcher's siblings (spec §5).
func NewWebhookHandler(url string) *WebhookHandler {
	return &WebhookHandler{url: url, client: &http.Client{Timeout: 5 * time.Second}}
}

func (h *WebhookHandler) Name() string { return "webhook" }

func (h *WebhookHandler) Handle(a types.Alert) bool {
	payload := map[string]interface{}{
		"timestamp": a.Ts,
		"severity":  a.Severity,
		"type":      a.Kind,
		"title":     a.Title,
		"message":   a.Message,
		"details":   a.Details,
		"alert_id":  a.ID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	resp, err := h.client.Post(h.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == 200 || resp.StatusCode == 201 || resp.StatusCode == 202
}

// EmailHandler sends alerts via SMTP. No ecosystem SMTP client appears in
// the retrieved pack, so this is built on net/smtp directly (justified
// stdlib-only sink, see DESIGN.md).
type EmailHandler struct {
	addr string
	from string
	to   []string
	auth smtp.Auth
}

// NewEmailHandler builds an EmailHandler from "user:pass@host:port/to"
// style config, resolved by the caller before construction.
func NewEmailHandler(addr, from string, to []string, auth smtp.Auth) *EmailHandler {
	return &EmailHandler{addr: addr, from: from, to: to, auth: auth}
}

func (h *EmailHandler) Name() string { return "email" }

func (h *EmailHandler) Handle(a types.Alert) bool {
	msg := fmt.Sprintf("Subject: [%s] %s\r\n\r\n%s\r\n", a.Severity, a.Title, a.Message)
	if err := smtp.SendMail(h.addr, h.auth, h.from, h.to, []byte(msg)); err != nil {
		return false
	}
	return true
}

// TelegramHandler posts to the Bot API over HTTPS.
type TelegramHandler struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramHandler builds a TelegramHandler.
func NewTelegramHandler(botToken, chatID string) *TelegramHandler {
	return &TelegramHandler{botToken: botToken, chatID: chatID, client: &http.Client{Timeout: 5 * time.Second}}
}

func (h *TelegramHandler) Name() string { return "telegram" }

func (h *TelegramHandler) Handle(a types.Alert) bool {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", h.botToken)
	payload := map[string]string{
		"chat_id": h.chatID,
		"text":    fmt.Sprintf("[%s] %s\n%s", a.Severity, a.Title, a.Message),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	resp, err := h.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == 200
}
