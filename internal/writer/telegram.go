package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appconfig "liqrelay/config"
)

const telegramBaseURL = "https://api.telegram.org"

// ErrDeliveryDisabled is returned when no destination credentials are set.
var ErrDeliveryDisabled = errors.New("delivery disabled: telegram token and chat id are required")

// SendResult is the API's verdict on one payload. A non-nil error from Send
// means the verdict is unknown (network failure, unreadable body).
type SendResult struct {
	OK          bool
	RateLimited bool
	RetryAfter  time.Duration
	ErrorCode   int
	Description string
}

// Transport pushes one text payload to the destination.
type Transport interface {
	Send(ctx context.Context, text string) (SendResult, error)
}

type Telegram struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

func NewTelegram(cfg appconfig.TelegramConfig) *Telegram {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = telegramBaseURL
	}
	return newTelegram(cfg, baseURL, &http.Client{Timeout: timeout})
}

func newTelegram(cfg appconfig.TelegramConfig, baseURL string, client *http.Client) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Telegram{
		token:   strings.TrimSpace(cfg.Token),
		chatID:  strings.TrimSpace(cfg.ChatID),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (t *Telegram) Send(ctx context.Context, text string) (SendResult, error) {
	if t.token == "" || t.chatID == "" {
		return SendResult{}, ErrDeliveryDisabled
	}
	if strings.TrimSpace(text) == "" {
		return SendResult{}, errors.New("telegram message is empty")
	}
	body, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return SendResult{}, err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return SendResult{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return SendResult{}, fmt.Errorf("read telegram response: %w", err)
	}
	var result struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
		Parameters  struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			return SendResult{RateLimited: true, ErrorCode: resp.StatusCode}, nil
		}
		return SendResult{}, fmt.Errorf("telegram send failed: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	res := SendResult{
		OK:          result.OK && resp.StatusCode < 300,
		ErrorCode:   result.ErrorCode,
		Description: strings.TrimSpace(result.Description),
	}
	if res.ErrorCode == 0 && !res.OK {
		res.ErrorCode = resp.StatusCode
	}
	if res.ErrorCode == http.StatusTooManyRequests {
		res.RateLimited = true
		if result.Parameters.RetryAfter > 0 {
			res.RetryAfter = time.Duration(result.Parameters.RetryAfter) * time.Second
		}
	}
	return res, nil
}
