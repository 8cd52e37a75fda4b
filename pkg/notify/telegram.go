package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"topup-fulfillment/pkg/httpclient"
)

type TelegramTransport struct {
	baseURL string
	token   string
	chatID  string
	http    *httpclient.Client
}

func NewTelegramTransport(baseURL, token, chatID string, hc *httpclient.Client) *TelegramTransport {
	return &TelegramTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		chatID:  chatID,
		http:    hc,
	}
}

func (t *TelegramTransport) Name() string { return "telegram" }

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *TelegramTransport) Send(ctx context.Context, e Event) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)

	resp, err := t.http.PostJSON(ctx, url, nil, sendMessageRequest{ChatID: t.chatID, Text: e.Text()})
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}

	var out sendMessageResponse
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return fmt.Errorf("telegram sendMessage: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := httpclient.DecodeJSONResponse(resp, &out); err != nil {
		return fmt.Errorf("telegram sendMessage: decode response: %w", err)
	}
	if !out.OK {
		return fmt.Errorf("telegram sendMessage: %s", out.Description)
	}
	return nil
}
