package dialog

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

	"github.com/holfizz/objection-trainer/internal/history"
	"github.com/holfizz/objection-trainer/pkg/logging"
)

const (
	defaultCozeBaseURL = "https://api.coze.com"
	cozeChatPath       = "/open_api/v2/chat"
)

// ErrServiceUnavailable marks a hard dialog failure: transport errors, broken
// response envelopes, and missing answers. Callers must not degrade these into
// fallback replies.
var ErrServiceUnavailable = errors.New("dialog: service unavailable")

// RespondRequest carries one user reply through the dialog engine. An empty
// ObjectionText means a free-standing query with no training context.
type RespondRequest struct {
	UserID        string
	UserText      string
	ObjectionText string
	LastTurn      *history.ChatTurn
}

// Recorder persists a completed exchange. Persistence failures are logged and
// never surfaced as dialog errors.
type Recorder interface {
	Append(ctx context.Context, userID, objectionText, userText, botText string) error
}

// CozeClientConfig controls the Coze chat client.
type CozeClientConfig struct {
	BaseURL    string
	APIKey     string
	BotID      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	Recorder   Recorder
}

// CozeClient drives the training dialog through the Coze chat API.
type CozeClient struct {
	apiKey     string
	botID      string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
	recorder   Recorder
}

// NewCozeClient creates a configured client with sane defaults.
func NewCozeClient(cfg CozeClientConfig) *CozeClient {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultCozeBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &CozeClient{
		apiKey:     cfg.APIKey,
		botID:      cfg.BotID,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		recorder:   cfg.Recorder,
	}
}

type cozeMessage struct {
	Role        string `json:"role"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
	Type        string `json:"type,omitempty"`
}

type cozeChatRequest struct {
	BotID       string        `json:"bot_id"`
	User        string        `json:"user"`
	Query       string        `json:"query"`
	Stream      bool          `json:"stream"`
	ChatHistory []cozeMessage `json:"chat_history"`
}

type cozeChatResponse struct {
	Messages []struct {
		Role    string `json:"role"`
		Type    string `json:"type"`
		Content string `json:"content"`
	} `json:"messages"`
}

// Respond sends the user's reply with its objection context and at most one
// prior exchange as rolling history. On success the completed exchange is
// recorded; a recording failure does not fail the call.
func (c *CozeClient) Respond(ctx context.Context, req RespondRequest) (Reply, error) {
	query := fmt.Sprintf("Запрос пользователя: \"%s\"", req.UserText)
	if req.ObjectionText != "" {
		query = fmt.Sprintf("Возражение клиента: \"%s\"\nОтвет продавца: \"%s\"", req.ObjectionText, req.UserText)
	}

	chatHistory := []cozeMessage{}
	if req.LastTurn != nil {
		chatHistory = []cozeMessage{
			{Role: "user", ContentType: "text", Content: fmt.Sprintf("Возражение клиента: \"%s\"", req.LastTurn.ObjectionText)},
			{Role: "user", ContentType: "text", Content: req.LastTurn.UserText},
			{Role: "assistant", ContentType: "text", Content: req.LastTurn.BotText, Type: "answer"},
		}
	}

	content, err := c.chat(ctx, cozeChatRequest{
		BotID:       c.botID,
		User:        req.UserID,
		Query:       query,
		ChatHistory: chatHistory,
	})
	if err != nil {
		return Reply{}, err
	}

	reply := DecodeReply(content)
	if c.recorder != nil && req.ObjectionText != "" {
		if err := c.recorder.Append(ctx, req.UserID, req.ObjectionText, req.UserText, reply.Text); err != nil {
			c.logger.Error("failed to record chat turn", "user_id", req.UserID, "error", err)
		}
	}
	return reply, nil
}

const generateObjectionPrompt = `Ты - Михаил Гребенюк, известный бизнес-тренер и эксперт по продажам.
Сгенерируй одно реалистичное возражение клиента на тему "%s".

Возражение должно быть:
1. Реалистичным (с которым продавцы действительно сталкиваются)
2. Конкретным (не общим)
3. Сложным (чтобы было интересно на него отвечать)

Верни ответ в формате:
{
  "objection": "текст сгенерированного возражения"
}`

// GenerateObjection asks the bot for a fresh objection on the given topic.
// When the answer carries no parseable JSON the whole text is the objection.
func (c *CozeClient) GenerateObjection(ctx context.Context, topic string) (string, error) {
	content, err := c.chat(ctx, cozeChatRequest{
		BotID: c.botID,
		User:  "telegramUser",
		Query: fmt.Sprintf(generateObjectionPrompt, topic),
	})
	if err != nil {
		return "", err
	}

	if raw, ok := extractJSON(content); ok {
		var parsed struct {
			Objection string `json:"objection"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil && parsed.Objection != "" {
			return parsed.Objection, nil
		}
	}
	return strings.TrimSpace(content), nil
}

// chat performs one non-streaming chat call and extracts the assistant answer.
func (c *CozeClient) chat(ctx context.Context, chatReq cozeChatRequest) (string, error) {
	body, err := json.Marshal(chatReq)
	if err != nil {
		return "", fmt.Errorf("dialog: marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+cozeChatPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("dialog: build chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrServiceUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("coze returned error status", "status", resp.StatusCode)
		return "", fmt.Errorf("%w: http status %d", ErrServiceUnavailable, resp.StatusCode)
	}

	var parsed cozeChatResponse
	if err := json.Unmarshal(data, &parsed); err != nil || parsed.Messages == nil {
		return "", fmt.Errorf("%w: malformed chat response", ErrServiceUnavailable)
	}
	for _, msg := range parsed.Messages {
		if msg.Role == "assistant" && msg.Type == "answer" && msg.Content != "" {
			return msg.Content, nil
		}
	}
	return "", fmt.Errorf("%w: no answer message in chat response", ErrServiceUnavailable)
}
