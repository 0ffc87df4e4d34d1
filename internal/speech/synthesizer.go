package speech

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

	"github.com/holfizz/objection-trainer/pkg/logging"
)

const (
	defaultTTSBaseURL      = "https://tts-backend.voice.ai"
	defaultTTSPollInterval = time.Second
	defaultTTSMaxAttempts  = 30
)

// Job statuses reported by the TTS backend.
const (
	jobStatusProcessing = "PROCESSING"
	jobStatusAvailable  = "AVAILABLE"
)

// SynthesizerConfig controls the voice synthesis client.
type SynthesizerConfig struct {
	BaseURL      string
	APIKey       string
	VoiceID      string
	PollInterval time.Duration
	MaxAttempts  int
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       *logging.Logger
}

// Synthesizer submits text to the TTS backend, polls the job until it is
// available, and downloads the resulting audio. The polling budget is bounded;
// the wait is a blocking call from the caller's perspective and must be run
// off any per-user lock.
type Synthesizer struct {
	apiKey       string
	voiceID      string
	baseURL      string
	pollInterval time.Duration
	maxAttempts  int
	httpClient   *http.Client
	logger       *logging.Logger
}

// NewSynthesizer creates a configured Synthesizer with sane defaults.
func NewSynthesizer(cfg SynthesizerConfig) *Synthesizer {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultTTSBaseURL
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultTTSPollInterval
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultTTSMaxAttempts
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Synthesizer{
		apiKey:       cfg.APIKey,
		voiceID:      cfg.VoiceID,
		baseURL:      strings.TrimRight(baseURL, "/"),
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		httpClient:   httpClient,
		logger:       logger,
	}
}

type submitResponse struct {
	AudioID string `json:"audioId"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type downloadResponse struct {
	AudioFileURL string `json:"audioFileUrl"`
}

// Voice describes one cloned voice available to the account.
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Synthesize converts text to audio bytes. It fails fast on missing
// configuration, bounds the status polling at maxAttempts, and downloads the
// finished audio once the job reports AVAILABLE.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(s.voiceID) == "" {
		return nil, &ConfigError{Missing: "VOICE_ID"}
	}
	if strings.TrimSpace(s.apiKey) == "" {
		return nil, &ConfigError{Missing: "VOICE_AI_API_KEY"}
	}

	audioID, err := s.submit(ctx, text)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("synthesis job submitted", "audio_id", audioID)

	if err := s.waitAvailable(ctx, audioID); err != nil {
		return nil, err
	}

	fileURL, err := s.downloadURL(ctx, audioID)
	if err != nil {
		return nil, err
	}
	return s.fetchAudio(ctx, fileURL)
}

func (s *Synthesizer) submit(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"voice":      s.voiceID,
		"text":       text,
		"creativity": 20,
		"diversity":  0,
		"precision":  100,
		"adherence":  90,
		"guidance":   85,
	})
	if err != nil {
		return "", fmt.Errorf("speech: marshal synthesis request: %w", err)
	}

	data, err := s.invoke(ctx, http.MethodPost, "/dev/api/v1/audios/text-to-speech", body)
	if err != nil {
		return "", err
	}
	var parsed submitResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("speech: decode synthesis response: %w", err)
	}
	if parsed.AudioID == "" {
		return "", errors.New("speech: synthesis response carried no job id")
	}
	return parsed.AudioID, nil
}

// waitAvailable polls the job status at the configured interval, at most
// maxAttempts times, waiting a full interval before every poll.
func (s *Synthesizer) waitAvailable(ctx context.Context, audioID string) error {
	ticker := time.NewTimer(s.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		data, err := s.invoke(ctx, http.MethodGet, "/dev/api/v1/audios/"+audioID, nil)
		if err != nil {
			return err
		}
		var parsed statusResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("speech: decode status response: %w", err)
		}
		s.logger.Debug("synthesis job status", "audio_id", audioID, "attempt", attempt, "status", parsed.Status)
		if parsed.Status == jobStatusAvailable {
			return nil
		}

		ticker.Reset(s.pollInterval)
	}
	return ErrSynthesisTimeout
}

func (s *Synthesizer) downloadURL(ctx context.Context, audioID string) (string, error) {
	data, err := s.invoke(ctx, http.MethodGet, "/dev/api/v1/audios/"+audioID+"/download", nil)
	if err != nil {
		return "", err
	}
	var parsed downloadResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("speech: decode download response: %w", err)
	}
	if parsed.AudioFileURL == "" {
		return "", errors.New("speech: download response carried no file url")
	}
	return parsed.AudioFileURL, nil
}

func (s *Synthesizer) fetchAudio(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("speech: build audio request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech: fetch audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("speech: fetch audio: http status %d", resp.StatusCode)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speech: read audio body: %w", err)
	}
	return audio, nil
}

// ListMyVoices returns the voices registered for the account.
func (s *Synthesizer) ListMyVoices(ctx context.Context) ([]Voice, error) {
	if strings.TrimSpace(s.apiKey) == "" {
		return nil, &ConfigError{Missing: "VOICE_AI_API_KEY"}
	}
	data, err := s.invoke(ctx, http.MethodGet, "/dev/api/v1/voices/my", nil)
	if err != nil {
		return nil, err
	}
	var voices []Voice
	if err := json.Unmarshal(data, &voices); err != nil {
		return nil, fmt.Errorf("speech: decode voices response: %w", err)
	}
	return voices, nil
}

func (s *Synthesizer) invoke(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("speech: build request: %w", err)
	}
	req.Header.Set("X-API-Token", s.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech: tts request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speech: read tts response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("speech: tts http status %d: %s", resp.StatusCode, truncate(string(data), 256))
	}
	return data, nil
}
