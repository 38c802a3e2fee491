// internal/notify/webhook.go
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rovshanmuradov/solana-copybot/internal/domain"
)

const defaultHTTPTimeout = 10 * time.Second

// WebhookPayload is the JSON body posted to a webhook.
type WebhookPayload struct {
	OrderID      string `json:"order_id"`
	Direction    string `json:"direction"`
	Origin       string `json:"origin"`
	Token        string `json:"token"`
	Status       string `json:"status"`
	Kind         string `json:"kind,omitempty"`
	Signature    string `json:"signature,omitempty"`
	FillPrice    string `json:"fill_price,omitempty"`
	FilledAmount uint64 `json:"filled_amount,omitempty"`
	Attempts     int    `json:"attempts"`
	DurationMS   int64  `json:"duration_ms"`
	Error        string `json:"error,omitempty"`
}

func payloadFor(o domain.ExecutionOutcome) WebhookPayload {
	p := WebhookPayload{
		OrderID:    o.Order.ID,
		Direction:  o.Order.Direction.String(),
		Origin:     o.Order.Origin.String(),
		Token:      o.Order.Token.String(),
		Status:     o.Status.String(),
		Attempts:   o.Attempts,
		DurationMS: o.Duration.Milliseconds(),
	}
	if o.Succeeded() {
		p.Signature = o.Signature.String()
		p.FillPrice = o.FillPrice.String()
		p.FilledAmount = o.FilledAmount
	} else {
		p.Kind = o.Kind.String()
	}
	if o.Err != nil {
		p.Error = o.Err.Error()
	}
	return p
}

// WebhookNotifier posts outcomes as JSON.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(endpoint string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &WebhookNotifier{url: endpoint, client: client}
}

func (w *WebhookNotifier) Notify(ctx context.Context, o domain.ExecutionOutcome) error {
	body, err := json.Marshal(payloadFor(o))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(w.client, req, "webhook")
}

// TelegramNotifier sends outcomes via the Telegram Bot API.
type TelegramNotifier struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

func NewTelegramNotifier(token, chatID string, client *http.Client) *TelegramNotifier {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &TelegramNotifier{
		baseURL: "https://api.telegram.org",
		token:   token,
		chatID:  chatID,
		client:  client,
	}
}

func (t *TelegramNotifier) Notify(ctx context.Context, o domain.ExecutionOutcome) error {
	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", FormatOutcome(o))
	form.Set("disable_web_page_preview", "true")

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(t.client, req, "telegram")
}

func do(client *http.Client, req *http.Request, sink string) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", sink, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s responded with status %d", sink, resp.StatusCode)
	}
	return nil
}
