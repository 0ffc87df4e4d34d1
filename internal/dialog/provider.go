package dialog

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/holfizz/objection-trainer/pkg/logging"
)

const (
	// ProviderAuto tries Coze first, then OpenAI.
	ProviderAuto = "auto"
	// ProviderCoze forces the Coze bot when credentials exist.
	ProviderCoze = "coze"
	// ProviderOpenAI forces the OpenAI engine when credentials exist.
	ProviderOpenAI = "openai"
)

// Provider produces dialog replies and fresh objections.
type Provider interface {
	Respond(ctx context.Context, req RespondRequest) (Reply, error)
	GenerateObjection(ctx context.Context, topic string) (string, error)
}

// ProviderSelectionConfig captures the credentials required to build a dialog provider.
type ProviderSelectionConfig struct {
	Preference   string
	CozeAPIKey   string
	CozeBotID    string
	CozeBaseURL  string
	CozeTimeout  time.Duration
	OpenAIAPIKey string
	OpenAIModel  string
	HTTPClient   *http.Client
	Recorder     Recorder
	Responses    ResponseStore
}

// BuildProvider instantiates a Provider based on the preferred backend.
// It returns the provider, the backend that was selected, and a reason when
// no backend could be initialized.
func BuildProvider(cfg ProviderSelectionConfig, logger *logging.Logger) (Provider, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	preference := strings.ToLower(strings.TrimSpace(cfg.Preference))
	if preference == "" {
		preference = ProviderAuto
	}

	missing := map[string]string{}
	var cozeProvider Provider
	var openaiProvider Provider

	if cfg.CozeAPIKey != "" && cfg.CozeBotID != "" {
		cozeProvider = NewCozeClient(CozeClientConfig{
			BaseURL:    cfg.CozeBaseURL,
			APIKey:     cfg.CozeAPIKey,
			BotID:      cfg.CozeBotID,
			Timeout:    cfg.CozeTimeout,
			HTTPClient: cfg.HTTPClient,
			Logger:     logger,
			Recorder:   cfg.Recorder,
		})
	} else {
		var reasons []string
		if cfg.CozeAPIKey == "" {
			reasons = append(reasons, "COZE_API_KEY missing")
		}
		if cfg.CozeBotID == "" {
			reasons = append(reasons, "COZE_BOT_ID missing")
		}
		missing[ProviderCoze] = strings.Join(reasons, ", ")
	}

	if cfg.OpenAIAPIKey != "" {
		client := openai.NewClient(cfg.OpenAIAPIKey)
		openaiProvider = NewEngine(client, cfg.OpenAIModel, cfg.Responses, logger)
	} else {
		missing[ProviderOpenAI] = "OPENAI_API_KEY missing"
	}

	if preference != ProviderAuto {
		if preference == ProviderCoze && cozeProvider != nil {
			return cozeProvider, ProviderCoze, ""
		}
		if preference == ProviderOpenAI && openaiProvider != nil {
			return openaiProvider, ProviderOpenAI, ""
		}
		reason := missing[preference]
		if reason == "" {
			reason = fmt.Sprintf("%s provider not configured", preference)
		}
		return nil, "", reason
	}

	if cozeProvider != nil {
		return cozeProvider, ProviderCoze, ""
	}
	if openaiProvider != nil {
		logger.Warn("coze not configured, falling back to openai dialog engine", "reason", missing[ProviderCoze])
		return openaiProvider, ProviderOpenAI, ""
	}

	reason := strings.TrimSpace(strings.Join([]string{missing[ProviderCoze], missing[ProviderOpenAI]}, "; "))
	return nil, "", reason
}
