package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/holfizz/objection-trainer/pkg/logging"
)

const defaultBaseURL = "https://api.telegram.org"

// Config controls how the Bot API client behaves.
type Config struct {
	Token      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client wraps the Telegram Bot API endpoints the bot needs.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
}

// New creates a configured Client with sane defaults. The HTTP timeout must
// exceed the long-poll timeout passed to GetUpdates.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 50 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		token:      cfg.Token,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
	}, nil
}

// GetUpdates long-polls for new updates past the given offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	body, err := json.Marshal(map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal getUpdates body: %w", err)
	}
	data, err := c.invoke(ctx, "getUpdates", body, "application/json")
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: decode updates: %w", err)
	}
	return updates, nil
}

// SendMessageRequest carries one outbound text message.
type SendMessageRequest struct {
	ChatID      int64
	Text        string
	ParseMode   string
	ReplyMarkup any
}

// SendMessage delivers a text message, optionally with a keyboard.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*Message, error) {
	if req.Text == "" {
		return nil, errors.New("telegram: message text required")
	}
	payload := map[string]any{
		"chat_id": req.ChatID,
		"text":    req.Text,
	}
	if req.ParseMode != "" {
		payload["parse_mode"] = req.ParseMode
	}
	if req.ReplyMarkup != nil {
		payload["reply_markup"] = req.ReplyMarkup
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal sendMessage body: %w", err)
	}
	data, err := c.invoke(ctx, "sendMessage", body, "application/json")
	if err != nil {
		return nil, err
	}
	return decodeResult[Message](data)
}

// SendVoiceRequest carries one outbound voice note.
type SendVoiceRequest struct {
	ChatID      int64
	Audio       []byte
	Caption     string
	ParseMode   string
	ReplyMarkup any
}

// SendVoice uploads audio bytes as a voice note.
func (c *Client) SendVoice(ctx context.Context, req SendVoiceRequest) (*Message, error) {
	if len(req.Audio) == 0 {
		return nil, errors.New("telegram: voice audio required")
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("chat_id", strconv.FormatInt(req.ChatID, 10)); err != nil {
		return nil, fmt.Errorf("telegram: write field: %w", err)
	}
	if req.Caption != "" {
		if err := writer.WriteField("caption", req.Caption); err != nil {
			return nil, fmt.Errorf("telegram: write field: %w", err)
		}
	}
	if req.ParseMode != "" {
		if err := writer.WriteField("parse_mode", req.ParseMode); err != nil {
			return nil, fmt.Errorf("telegram: write field: %w", err)
		}
	}
	if req.ReplyMarkup != nil {
		markup, err := json.Marshal(req.ReplyMarkup)
		if err != nil {
			return nil, fmt.Errorf("telegram: marshal reply markup: %w", err)
		}
		if err := writer.WriteField("reply_markup", string(markup)); err != nil {
			return nil, fmt.Errorf("telegram: write field: %w", err)
		}
	}
	part, err := writer.CreateFormFile("voice", "voice.ogg")
	if err != nil {
		return nil, fmt.Errorf("telegram: create form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("telegram: write voice bytes: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("telegram: close multipart writer: %w", err)
	}
	data, err := c.invoke(ctx, "sendVoice", buf.Bytes(), writer.FormDataContentType())
	if err != nil {
		return nil, err
	}
	return decodeResult[Message](data)
}

// AnswerCallbackQuery acknowledges an inline button press.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	payload := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal answerCallbackQuery body: %w", err)
	}
	_, err = c.invoke(ctx, "answerCallbackQuery", body, "application/json")
	return err
}

// EditMessageReplyMarkup replaces a message's inline keyboard. An empty
// markup removes it.
func (c *Client) EditMessageReplyMarkup(ctx context.Context, chatID int64, messageID int64, markup InlineKeyboardMarkup) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":      chatID,
		"message_id":   messageID,
		"reply_markup": markup,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal editMessageReplyMarkup body: %w", err)
	}
	_, err = c.invoke(ctx, "editMessageReplyMarkup", body, "application/json")
	return err
}

// DeleteMessage removes a previously sent message.
func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int64) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal deleteMessage body: %w", err)
	}
	_, err = c.invoke(ctx, "deleteMessage", body, "application/json")
	return err
}

// SendChatAction shows a typing/recording indicator.
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	body, err := json.Marshal(map[string]any{
		"chat_id": chatID,
		"action":  action,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal sendChatAction body: %w", err)
	}
	_, err = c.invoke(ctx, "sendChatAction", body, "application/json")
	return err
}

// GetFile resolves a file id to a downloadable path.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	if strings.TrimSpace(fileID) == "" {
		return nil, errors.New("telegram: file id required")
	}
	body, err := json.Marshal(map[string]any{"file_id": fileID})
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal getFile body: %w", err)
	}
	data, err := c.invoke(ctx, "getFile", body, "application/json")
	if err != nil {
		return nil, err
	}
	return decodeResult[File](data)
}

// DownloadFile fetches the raw bytes of a resolved file path.
func (c *Client) DownloadFile(ctx context.Context, filePath string) ([]byte, error) {
	if strings.TrimSpace(filePath) == "" {
		return nil, errors.New("telegram: file path required")
	}
	fileURL := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, strings.TrimLeft(filePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apiError{StatusCode: resp.StatusCode, Description: "file download failed"}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("telegram: read file body: %w", err)
	}
	return data, nil
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (c *Client) invoke(ctx context.Context, method string, body []byte, contentType string) (json.RawMessage, error) {
	fullURL := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("telegram: build request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !shouldRetry(0, err) || attempt == c.maxRetries {
				return nil, fmt.Errorf("telegram: http error: %w", err)
			}
			lastErr = err
			c.logRetry(method, attempt, 0, err)
			if sleepErr := c.sleep(ctx, c.backoff*time.Duration(1<<attempt)); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("telegram: read response: %w", readErr)
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("telegram: decode envelope: %w", err)
		}
		if env.OK {
			return env.Result, nil
		}

		apiErr := &apiError{
			StatusCode:  resp.StatusCode,
			ErrorCode:   env.ErrorCode,
			Description: env.Description,
		}
		if env.Parameters != nil {
			apiErr.RetryAfter = env.Parameters.RetryAfter
		}
		if attempt < c.maxRetries && shouldRetry(statusOf(resp.StatusCode, env.ErrorCode), nil) {
			lastErr = apiErr
			c.logRetry(method, attempt, resp.StatusCode, apiErr)
			delay := c.backoff * time.Duration(1<<attempt)
			if apiErr.RetryAfter > 0 {
				delay = time.Duration(apiErr.RetryAfter) * time.Second
			}
			if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("telegram: request failed without response")
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(method string, attempt int, status int, err error) {
	c.logger.Warn("telegram retry",
		"method", method,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

// statusOf prefers the Bot API error_code, which is the HTTP status Telegram
// intended even when a proxy rewrites the transport status.
func statusOf(httpStatus, errorCode int) int {
	if errorCode > 0 {
		return errorCode
	}
	return httpStatus
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	if status >= 500 && status <= 599 {
		return true
	}
	return false
}

type apiError struct {
	StatusCode  int
	ErrorCode   int
	Description string
	RetryAfter  int
}

func (e *apiError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("telegram: %s (status=%d)", e.Description, e.StatusCode)
	}
	return fmt.Sprintf("telegram: http status %d", e.StatusCode)
}

func decodeResult[T any](data json.RawMessage) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("telegram: decode result: %w", err)
	}
	return &result, nil
}
