package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/holfizz/objection-trainer/pkg/logging"
)

const (
	defaultDeepgramBaseURL = "https://api.deepgram.com"
	// The Russian model only supports the base tier.
	deepgramListenPath = "/v1/listen?model=base&language=ru&punctuate=true&diarize=false"
)

// Fallback texts surfaced to the user instead of errors.
const (
	unrecognizedText = "Текст не распознан. Пожалуйста, говорите чётче или попробуйте снова в более тихом месте."
)

// Transcript is the outcome of a transcription attempt. A failed or empty
// recognition is a value, not an error, so the pipeline can branch without
// exception handling.
type Transcript struct {
	Text       string
	Recognized bool
}

// FallbackTranscript wraps an error detail in the user-facing fallback text.
func FallbackTranscript(detail string) Transcript {
	return Transcript{
		Text:       fmt.Sprintf("Извините, я не смог распознать речь: %s", detail),
		Recognized: false,
	}
}

// TranscriberConfig controls the Deepgram client.
type TranscriberConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Transcriber converts normalized PCM audio into text through Deepgram. It
// never raises past its own boundary: every failure converts to a fallback
// Transcript.
type Transcriber struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewTranscriber creates a configured Transcriber with sane defaults.
func NewTranscriber(cfg TranscriberConfig) *Transcriber {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultDeepgramBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Transcriber{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

type deepgramResponse struct {
	Results *struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe sends WAV audio to Deepgram and extracts the best transcript.
// Preconditions are checked before any network call.
func (t *Transcriber) Transcribe(ctx context.Context, wav []byte) Transcript {
	if len(wav) == 0 {
		return FallbackTranscript("пустой аудио буфер")
	}
	if strings.TrimSpace(t.apiKey) == "" {
		return FallbackTranscript("API ключ не настроен")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+deepgramListenPath, bytes.NewReader(wav))
	if err != nil {
		return FallbackTranscript(err.Error())
	}
	req.Header.Set("Authorization", "Token "+t.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Error("deepgram request failed", "error", err)
		return FallbackTranscript(err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FallbackTranscript(err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.logger.Error("deepgram returned error status", "status", resp.StatusCode)
		return FallbackTranscript(fmt.Sprintf("статус %d", resp.StatusCode))
	}

	var parsed deepgramResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Results == nil {
		return FallbackTranscript("некорректный ответ от API")
	}

	transcript := ""
	if len(parsed.Results.Channels) > 0 && len(parsed.Results.Channels[0].Alternatives) > 0 {
		transcript = parsed.Results.Channels[0].Alternatives[0].Transcript
	}
	if strings.TrimSpace(transcript) == "" {
		return Transcript{Text: unrecognizedText, Recognized: false}
	}
	return Transcript{Text: transcript, Recognized: true}
}
