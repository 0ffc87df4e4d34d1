package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/holfizz/objection-trainer/internal/history"
	"github.com/holfizz/objection-trainer/pkg/logging"
)

const personaSystemPrompt = "Ты - Михаил Гребенюк, известный бизнес-тренер и эксперт по продажам. Твой стиль общения прямой, иногда ироничный, но всегда нацеленный на результат."

var engineTracer = otel.Tracer("trainer.internal.dialog.engine")

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ResponseStore persists scored answers. A persistence failure is logged and
// never surfaced as an analysis error.
type ResponseStore interface {
	SaveUserResponse(ctx context.Context, userID string, objectionID *string, responseText string, analysis history.Analysis) error
}

// AnalyzeRequest scores one user answer against its objection.
type AnalyzeRequest struct {
	UserID       string
	ObjectionID  *string
	Objection    string
	UserResponse string
	Category     string
}

// Assessment is the structured verdict on a user's answer.
type Assessment struct {
	history.Analysis
	Errors []string
}

// Engine produces analysis and objections through the OpenAI chat API. It
// also serves as the dialog provider when Coze is not configured.
type Engine struct {
	client chatClient
	model  string
	store  ResponseStore
	logger *logging.Logger
}

// NewEngine returns an OpenAI-backed engine.
func NewEngine(client chatClient, model string, store ResponseStore, logger *logging.Logger) *Engine {
	if client == nil {
		panic("dialog: chat client cannot be nil")
	}
	if model == "" {
		model = openai.GPT4
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		client: client,
		model:  model,
		store:  store,
		logger: logger,
	}
}

type analysisEnvelope struct {
	Score           int      `json:"score"`
	HasRecognition  bool     `json:"hasRecognition"`
	HasArgument     bool     `json:"hasArgument"`
	HasReversal     bool     `json:"hasReversal"`
	HasCallToAction bool     `json:"hasCallToAction"`
	IdealResponse   string   `json:"idealResponse"`
	Feedback        string   `json:"feedback"`
	Errors          []string `json:"errors"`
}

// Analyze scores the answer on recognition, argument, reversal, and call to
// action. Parsed assessments are persisted; an unparseable model answer comes
// back as plain feedback and is not stored.
func (e *Engine) Analyze(ctx context.Context, req AnalyzeRequest) (*Assessment, error) {
	ctx, span := engineTracer.Start(ctx, "dialog.analyze")
	defer span.End()
	span.SetAttributes(attribute.String("trainer.user_id", req.UserID))

	content, err := e.complete(ctx, analysisPrompt(req))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	raw := content
	if extracted, ok := extractJSON(content); ok {
		raw = extracted
	}
	var env analysisEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		e.logger.Warn("analysis answer was not valid json", "user_id", req.UserID)
		return &Assessment{Analysis: history.Analysis{Feedback: strings.TrimSpace(content)}}, nil
	}

	assessment := &Assessment{
		Analysis: history.Analysis{
			Score:           env.Score,
			Feedback:        env.Feedback,
			HasRecognition:  env.HasRecognition,
			HasArgument:     env.HasArgument,
			HasReversal:     env.HasReversal,
			HasCallToAction: env.HasCallToAction,
			IdealResponse:   env.IdealResponse,
		},
		Errors: env.Errors,
	}
	if e.store != nil && req.UserID != "" {
		if err := e.store.SaveUserResponse(ctx, req.UserID, req.ObjectionID, req.UserResponse, assessment.Analysis); err != nil {
			e.logger.Error("failed to save scored response", "user_id", req.UserID, "error", err)
		}
	}
	return assessment, nil
}

// GenerateObjection asks the model for a single objection on the topic.
func (e *Engine) GenerateObjection(ctx context.Context, topic string) (string, error) {
	ctx, span := engineTracer.Start(ctx, "dialog.generate_objection")
	defer span.End()

	content, err := e.complete(ctx, fmt.Sprintf(generateObjectionPrompt, topic))
	if err != nil {
		span.RecordError(err)
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

// Respond makes the engine usable as a dialog provider. Replies with an
// objection context are built from the assessment; free queries get a plain
// persona answer.
func (e *Engine) Respond(ctx context.Context, req RespondRequest) (Reply, error) {
	if req.ObjectionText == "" {
		content, err := e.complete(ctx, req.UserText)
		if err != nil {
			return Reply{}, err
		}
		return DecodeReply(content), nil
	}

	assessment, err := e.Analyze(ctx, AnalyzeRequest{
		UserID:       req.UserID,
		Objection:    req.ObjectionText,
		UserResponse: req.UserText,
	})
	if err != nil {
		return Reply{}, err
	}

	var sb strings.Builder
	if assessment.Score > 0 {
		fmt.Fprintf(&sb, "Оценка: %d/10\n\n", assessment.Score)
	}
	sb.WriteString(assessment.Feedback)
	if assessment.IdealResponse != "" {
		fmt.Fprintf(&sb, "\n\nИдеальный ответ: %s", assessment.IdealResponse)
	}
	return Reply{Text: sb.String(), Errors: assessment.Errors, Structured: true}, nil
}

func (e *Engine) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0.7,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: personaSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: completion returned no choices", ErrServiceUnavailable)
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", errors.New("dialog: completion returned empty content")
	}
	return content, nil
}

func analysisPrompt(req AnalyzeRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `Ты - Михаил Гребенюк, известный бизнес-тренер и эксперт по продажам с жестким, прямолинейным стилем общения. Твой стиль прямой, иногда ироничный, но всегда нацеленный на результат.

Проанализируй ответ на возражение клиента и оцени его по шкале от 1 до 10.

Возражение клиента: "%s"
Ответ продавца: "%s"
`, req.Objection, req.UserResponse)
	if req.Category != "" {
		fmt.Fprintf(&sb, "Категория возражения: %s\n", req.Category)
	}

	sb.WriteString(`
Оцени ответ по следующим критериям:
1. Признание возражения (да/нет)
2. Аргументация (да/нет)
3. Переворот возражения (да/нет)
4. Призыв к действию (да/нет)
`)

	switch req.Category {
	case "Цена":
		sb.WriteString(`
При анализе ответа на возражение по цене, обрати особое внимание на:
1. Признание ценности продукта/услуги
2. Объяснение, почему цена соответствует ценности
3. Сравнение с конкурентами (если уместно)
4. Предложение вариантов оплаты или скидок (если уместно)
`)
	case "Доверие":
		sb.WriteString(`
При анализе ответа на возражение по доверию, обрати особое внимание на:
1. Использование социальных доказательств (отзывы, кейсы, примеры)
2. Демонстрацию экспертности и опыта
3. Предоставление гарантий
4. Прозрачность и честность в коммуникации
`)
	case "Срочность":
		sb.WriteString(`
При анализе ответа на возражение по срочности, обрати особое внимание на:
1. Создание ощущения дефицита (ограниченное предложение, время)
2. Объяснение рисков откладывания решения
3. Предложение пробного/тестового периода
4. Демонстрация быстрых результатов
`)
	}

	sb.WriteString(`
Дай общую оценку от 1 до 10.

Напиши идеальный ответ на это возражение в твоем стиле.

Дай обратную связь в своем фирменном стиле - если ответ плохой, иронично давишь и шутишь, если хороший - хвалишь, но предлагаешь улучшение.

Ответ должен быть в формате JSON:
{
  "score": число от 1 до 10,
  "hasRecognition": true/false,
  "hasArgument": true/false,
  "hasReversal": true/false,
  "hasCallToAction": true/false,
  "idealResponse": "текст идеального ответа",
  "feedback": "твоя обратная связь в твоем стиле",
  "errors": ["список ошибок в ответе"]
}`)
	return sb.String()
}
