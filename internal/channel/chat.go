package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultChatTimeout = 30 * time.Second

// ChatHandler — отправка в chat webhook (MS Teams, Slack, Discord).
//
// Content шага:
//   - webhook_url (string): URL входящего webhook (либо payload.webhook_url)
//   - content (string): текст сообщения, шаблон text/template (см. Render)
//
// Тело запроса: {"text": ...} для msteams и slack, {"content": ...} для discord.
type ChatHandler struct {
	provider ProviderID
	client   *http.Client
}

// NewChatHandler создаёт обработчик chat провайдера.
// client == nil → http.Client с таймаутом 30s.
func NewChatHandler(provider ProviderID, client *http.Client) *ChatHandler {
	if client == nil {
		client = &http.Client{Timeout: defaultChatTimeout}
	}
	return &ChatHandler{provider: provider, client: client}
}

func (h *ChatHandler) ProviderID() ProviderID { return h.provider }

// CheckIntegration проверяет webhook URL и наличие текста.
func (h *ChatHandler) CheckIntegration(_ context.Context, msg *Message) error {
	raw := webhookURL(msg)
	if raw == "" {
		return fmt.Errorf("%w: %s webhook_url is required", ErrIntegration, h.provider)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s webhook_url %q is not an http(s) url", ErrIntegration, h.provider, raw)
	}
	text := getString(msg.Content, "content")
	if text == "" {
		return fmt.Errorf("%w: %s content is empty", ErrIntegration, h.provider)
	}
	if _, err := Render(text, msg); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIntegration, h.provider, err)
	}
	return nil
}

// Send выполняет POST в webhook. Ответ >= 300 — ошибка доставки.
func (h *ChatHandler) Send(ctx context.Context, msg *Message) error {
	text, err := Render(getString(msg.Content, "content"), msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	body, err := json.Marshal(h.body(text))
	if err != nil {
		return fmt.Errorf("%w: marshal body: %v", ErrDelivery, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL(msg), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDelivery, h.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("%w: %s returned HTTP %d: %s", ErrDelivery, h.provider, resp.StatusCode, respBody)
	}

	return nil
}

func (h *ChatHandler) body(text string) map[string]string {
	if h.provider == ProviderDiscord {
		return map[string]string{"content": text}
	}
	return map[string]string{"text": text}
}

func webhookURL(msg *Message) string {
	if u := getString(msg.Content, "webhook_url"); u != "" {
		return u
	}
	return getString(msg.Payload, "webhook_url")
}
