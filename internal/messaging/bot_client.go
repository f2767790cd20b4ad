package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// BotClient implements Surface against the chat bot's internal HTTP
// API. The bot owns the actual platform session; this client only
// relays intents.
type BotClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewBotClient(baseURL string, log *zap.Logger) *BotClient {
	return &BotClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

func (c *BotClient) CreateDealChannel(ctx context.Context, initiator, counterparty string) (string, error) {
	var res struct {
		ChannelID string `json:"channel_id"`
	}
	err := c.post(ctx, "/internal/channels", map[string]any{
		"initiator":    initiator,
		"counterparty": counterparty,
	}, &res)
	if err != nil {
		return "", err
	}
	if res.ChannelID == "" {
		return "", fmt.Errorf("bot returned empty channel id")
	}
	return res.ChannelID, nil
}

func (c *BotClient) DeleteChannel(ctx context.Context, channelID string, after time.Duration) error {
	return c.post(ctx, fmt.Sprintf("/internal/channels/%s/delete", channelID), map[string]any{
		"after_seconds": int(after.Seconds()),
	}, nil)
}

func (c *BotClient) Send(ctx context.Context, channelID, text string) error {
	return c.post(ctx, fmt.Sprintf("/internal/channels/%s/messages", channelID), map[string]any{
		"text": text,
	}, nil)
}

func (c *BotClient) SendTo(ctx context.Context, channelID, actorID, text string) error {
	return c.post(ctx, fmt.Sprintf("/internal/channels/%s/messages", channelID), map[string]any{
		"actor_id": actorID,
		"text":     text,
	}, nil)
}

func (c *BotClient) SendPrompt(ctx context.Context, channelID, text string, options []PromptOption) error {
	return c.post(ctx, fmt.Sprintf("/internal/channels/%s/prompts", channelID), map[string]any{
		"text":    text,
		"options": options,
	}, nil)
}

func (c *BotClient) Restrict(ctx context.Context, channelID, actorID string) error {
	return c.post(ctx, fmt.Sprintf("/internal/channels/%s/restrict", channelID), map[string]any{
		"actor_id": actorID,
	}, nil)
}

func (c *BotClient) Unrestrict(ctx context.Context, channelID, actorID string) error {
	return c.post(ctx, fmt.Sprintf("/internal/channels/%s/unrestrict", channelID), map[string]any{
		"actor_id": actorID,
	}, nil)
}

// AwaitMessage long-polls the bot for the next message from the actor.
// The bot holds the request open up to the timeout; 204 means nothing
// arrived in the window.
func (c *BotClient) AwaitMessage(ctx context.Context, channelID, actorID string, timeout time.Duration) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"actor_id":        actorID,
		"timeout_seconds": int(timeout.Seconds()),
	})

	url := fmt.Sprintf("%s/internal/channels/%s/await", c.baseURL, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	// The long poll outlives the default client timeout.
	client := &http.Client{Timeout: timeout + 10*time.Second}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("bot service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return "", ErrAwaitTimeout
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("bot service returned %d: %s", resp.StatusCode, string(b))
	}

	var res struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", err
	}
	return res.Text, nil
}

func (c *BotClient) post(ctx context.Context, path string, payload map[string]any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bot service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bot service returned %d: %s", resp.StatusCode, string(b))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return err
		}
	}
	return nil
}
