package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MegaGrindStone/chatbot-ui/internal/models"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

// Backend is an HTTP client for the chat backend. It lists threads, creates new ones and loads the history
// of a thread. Every request is bounded by a per-attempt timeout and retried with exponential backoff on
// connection errors and 5xx responses.
type Backend struct {
	baseURL string
	client  *retryablehttp.Client

	logger *slog.Logger
}

// BackendOptions tunes the timeout and retry behaviour of Backend. Zero values fall back to defaults.
type BackendOptions struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

const (
	defaultBackendTimeout = 10 * time.Second
	defaultRetryMax       = 3
)

// NewBackend creates a new Backend rooted at baseURL, e.g. "http://127.0.0.1:5000".
func NewBackend(baseURL string, opts BackendOptions, logger *slog.Logger) Backend {
	logger = logger.With(slog.String("module", "backend"))

	client := retryablehttp.NewClient()
	client.Logger = logger
	client.HTTPClient.Timeout = defaultBackendTimeout
	if opts.Timeout > 0 {
		client.HTTPClient.Timeout = opts.Timeout
	}
	client.RetryMax = defaultRetryMax
	if opts.RetryMax > 0 {
		client.RetryMax = opts.RetryMax
	}
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}

	return Backend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

// Chats returns the threads known to the backend, in backend order.
func (b Backend) Chats(ctx context.Context) ([]models.ChatThread, error) {
	var chats []models.ChatThread
	if err := b.do(ctx, http.MethodGet, "/get_chats", &chats); err != nil {
		return nil, fmt.Errorf("failed to get chats: %w", err)
	}
	return chats, nil
}

// CreateChat asks the backend to mint a new thread.
func (b Backend) CreateChat(ctx context.Context) (models.ChatThread, error) {
	var chat models.ChatThread
	if err := b.do(ctx, http.MethodPost, "/create_chat", &chat); err != nil {
		return models.ChatThread{}, fmt.Errorf("failed to create chat: %w", err)
	}
	if chat.ChatID == "" {
		return models.ChatThread{}, fmt.Errorf("failed to create chat: backend returned an empty chat_id")
	}
	return chat, nil
}

// Messages returns the stored history of the given thread. Every message gets a fresh local ID and is marked
// as ended, since history never streams.
func (b Backend) Messages(ctx context.Context, chatID string) ([]models.Message, error) {
	var messages []models.Message
	if err := b.do(ctx, http.MethodGet, "/get_messages/"+url.PathEscape(chatID), &messages); err != nil {
		return nil, fmt.Errorf("failed to get messages of chat %s: %w", chatID, err)
	}
	for i := range messages {
		messages[i].ID = uuid.New().String()
		messages[i].StreamingState = models.StreamingStateEnded
	}
	return messages, nil
}

func (b Backend) do(ctx context.Context, method, path string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, b.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("backend error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	b.logger.Debug("Backend request done",
		slog.String("method", method),
		slog.String("path", path))

	return nil
}
