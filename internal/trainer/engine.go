package trainer

import (
	"context"
	"fmt"
	"strings"

	"github.com/holfizz/objection-trainer/internal/catalog"
	"github.com/holfizz/objection-trainer/internal/dialog"
	"github.com/holfizz/objection-trainer/internal/history"
	"github.com/holfizz/objection-trainer/internal/observability/metrics"
	"github.com/holfizz/objection-trainer/internal/session"
	"github.com/holfizz/objection-trainer/internal/users"
	"github.com/holfizz/objection-trainer/pkg/logging"
)

// User-visible texts. HTML markup is rendered by the transport.
const (
	welcomeText = "🔥 Добро пожаловать в ИИ-Гребенюка! 🔥\n\n" +
		"Хочешь расти, зарабатывать больше и не тупить? Жми СТАРТ.\n" +
		"Этот бот — твой персональный наставник. Он встряхнет тебя, даст четкие советы по бизнесу 💼, " +
		"прокачает твои навыки и не даст слиться.\n\n" +
		"⚡ Готов к разбору полетов? Жми СТАРТ! 🚀"

	pickFirstText = "❌ Сначала выберите или сгенерируйте возражение, чтобы ответить на него."

	askTopicText = "Введите тему для генерации возражений или напишите 'любая' для случайной темы:"

	genericErrorText = "❌ Произошла ошибка. Пожалуйста, попробуйте позже."

	analysisErrorText = "❌ Произошла ошибка при анализе ответа. Пожалуйста, попробуйте еще раз."

	answerPromptText = "Ответьте на это возражение текстом или отправьте голосовое сообщение."
)

const defaultGenerationTopic = "общая"

type userStore interface {
	GetOrCreate(ctx context.Context, telegramID string) (*users.User, error)
}

type objectionCatalog interface {
	Random(ctx context.Context, categoryID string) (*catalog.Objection, error)
	CategoryByName(ctx context.Context, name string) (*catalog.Category, error)
}

type turnHistory interface {
	Latest(ctx context.Context, userID string) (*history.ChatTurn, error)
}

type analyzer interface {
	Analyze(ctx context.Context, req dialog.AnalyzeRequest) (*dialog.Assessment, error)
}

// Request is one inbound event with the identity it arrived under.
type Request struct {
	TelegramID string
	ChatID     int64
	Event      Event
}

// Engine is the per-user conversation orchestrator. It interprets events
// against the session state machine and drives the voice pipeline. Session
// access is serialized per user key; external calls run outside the lock.
type Engine struct {
	sessions session.Store
	locks    *session.KeyLocks
	users    userStore
	catalog  objectionCatalog
	history  turnHistory
	provider dialog.Provider
	analyzer analyzer
	pipeline *Pipeline
	metrics  *metrics.PipelineMetrics
	logger   *logging.Logger
}

// EngineConfig wires the orchestrator's collaborators. Analyzer and Metrics
// are optional.
type EngineConfig struct {
	Sessions session.Store
	Users    userStore
	Catalog  objectionCatalog
	History  turnHistory
	Provider dialog.Provider
	Analyzer analyzer
	Pipeline *Pipeline
	Metrics  *metrics.PipelineMetrics
	Logger   *logging.Logger
}

// NewEngine creates the orchestrator.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Sessions == nil {
		panic("trainer: session store required")
	}
	if cfg.Provider == nil {
		panic("trainer: dialog provider required")
	}
	if cfg.Pipeline == nil {
		panic("trainer: voice pipeline required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		sessions: cfg.Sessions,
		locks:    session.NewKeyLocks(),
		users:    cfg.Users,
		catalog:  cfg.Catalog,
		history:  cfg.History,
		provider: cfg.Provider,
		analyzer: cfg.Analyzer,
		pipeline: cfg.Pipeline,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
}

// Handle processes one inbound event and produces the delivery payload.
// Every path returns a Reply; errors are reserved for broken infrastructure.
func (e *Engine) Handle(ctx context.Context, req Request) (*Reply, error) {
	if req.Event == nil {
		return nil, fmt.Errorf("trainer: nil event for %q", req.TelegramID)
	}
	sess, err := e.loadSession(ctx, req)
	if err != nil {
		return nil, err
	}

	reply, err := e.dispatch(ctx, req, sess)
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.ObserveEvent(req.Event.eventType(), status)
	return reply, err
}

func (e *Engine) dispatch(ctx context.Context, req Request, sess *session.Session) (*Reply, error) {
	switch ev := req.Event.(type) {
	case Start:
		return e.handleStart(ctx, req)
	case PickCategory:
		return e.handlePick(ctx, req, ev.Name)
	case PickRandom:
		return e.handlePick(ctx, req, "")
	case RequestGeneration:
		return e.handleRequestGeneration(ctx, req)
	case TopicText:
		return e.handleTopic(ctx, req, ev.Topic)
	case FreeText:
		if sess.Phase == session.PhaseAwaitingTopic {
			return e.handleTopic(ctx, req, ev.Text)
		}
		return e.handleAnswer(ctx, req, sess, ev.Text)
	case Voice:
		return e.handleVoice(ctx, req, sess, ev.Data)
	case Retry:
		return e.handleRetry(ctx, req, sess)
	default:
		return nil, fmt.Errorf("trainer: unknown event %T", req.Event)
	}
}

// loadSession fetches the session under the per-user lock and binds the
// durable user id on first contact.
func (e *Engine) loadSession(ctx context.Context, req Request) (*session.Session, error) {
	e.locks.Lock(req.TelegramID)
	sess, err := e.sessions.GetOrCreate(ctx, req.TelegramID)
	e.locks.Unlock(req.TelegramID)
	if err != nil {
		return nil, err
	}

	if sess.UserID != "" && sess.ChatID == req.ChatID {
		return sess, nil
	}

	userID := sess.UserID
	if userID == "" {
		user, err := e.users.GetOrCreate(ctx, req.TelegramID)
		if err != nil {
			return nil, err
		}
		userID = user.ID
	}
	return e.updateSession(ctx, req.TelegramID, func(s *session.Session) {
		s.UserID = userID
		s.ChatID = req.ChatID
	})
}

func (e *Engine) updateSession(ctx context.Context, key string, mutate func(*session.Session)) (*session.Session, error) {
	e.locks.Lock(key)
	defer e.locks.Unlock(key)
	return e.sessions.Update(ctx, key, mutate)
}

func (e *Engine) handleStart(ctx context.Context, req Request) (*Reply, error) {
	if _, err := e.updateSession(ctx, req.TelegramID, func(s *session.Session) {
		s.Phase = session.PhaseIdle
		s.CurrentObjection = nil
		s.HasAnsweredCurrent = false
		s.LastTranscript = ""
	}); err != nil {
		return nil, err
	}
	return &Reply{Text: welcomeText, Menu: MenuStart}, nil
}

func (e *Engine) handlePick(ctx context.Context, req Request, categoryName string) (*Reply, error) {
	categoryID := ""
	if categoryName != "" {
		category, err := e.catalog.CategoryByName(ctx, categoryName)
		if err != nil {
			e.logger.Warn("unknown objection category, drawing from full catalog", "category", categoryName, "error", err)
		} else {
			categoryID = category.ID
		}
	}

	objection, err := e.catalog.Random(ctx, categoryID)
	if err != nil {
		e.logger.Error("failed to draw objection", "category", categoryName, "error", err)
		return &Reply{Text: genericErrorText, Menu: MenuAfterObjection}, nil
	}

	if _, err := e.updateSession(ctx, req.TelegramID, func(s *session.Session) {
		s.Phase = session.PhaseAwaitingResponse
		s.CurrentObjection = &session.Objection{
			ID:         objection.ID,
			Text:       objection.Text,
			CategoryID: objection.CategoryID,
		}
		s.HasAnsweredCurrent = false
	}); err != nil {
		return nil, err
	}

	return &Reply{Text: presentObjection(objection.Text), Menu: MenuAfterObjection}, nil
}

func (e *Engine) handleRequestGeneration(ctx context.Context, req Request) (*Reply, error) {
	if _, err := e.updateSession(ctx, req.TelegramID, func(s *session.Session) {
		s.Phase = session.PhaseAwaitingTopic
	}); err != nil {
		return nil, err
	}
	return &Reply{Text: askTopicText}, nil
}

func (e *Engine) handleTopic(ctx context.Context, req Request, topic string) (*Reply, error) {
	topic = strings.TrimSpace(topic)
	if lowered := strings.ToLower(topic); lowered == "любая" || lowered == "any" || lowered == "" {
		topic = defaultGenerationTopic
	}

	objectionText, err := e.provider.GenerateObjection(ctx, topic)
	if err != nil {
		e.logger.Error("objection generation failed", "topic", topic, "error", err)
		if _, uerr := e.updateSession(ctx, req.TelegramID, func(s *session.Session) {
			s.Phase = session.PhaseIdle
		}); uerr != nil {
			return nil, uerr
		}
		return &Reply{
			Text: fmt.Sprintf("❌ Не удалось сгенерировать возражение: %v", err),
			Menu: MenuAfterObjection,
		}, nil
	}

	// Generated objections carry no catalog id.
	if _, err := e.updateSession(ctx, req.TelegramID, func(s *session.Session) {
		s.Phase = session.PhaseAwaitingResponse
		s.CurrentObjection = &session.Objection{Text: objectionText}
		s.HasAnsweredCurrent = false
	}); err != nil {
		return nil, err
	}

	return &Reply{Text: presentObjection(objectionText), Menu: MenuAfterObjection}, nil
}

func (e *Engine) handleAnswer(ctx context.Context, req Request, sess *session.Session, text string) (*Reply, error) {
	if sess.CurrentObjection == nil {
		return &Reply{Text: pickFirstText, Menu: MenuAfterObjection}, nil
	}
	objection := *sess.CurrentObjection

	lastTurn := e.latestTurn(ctx, sess.UserID)
	reply, err := e.provider.Respond(ctx, dialog.RespondRequest{
		UserID:        sess.UserID,
		UserText:      text,
		ObjectionText: objection.Text,
		LastTurn:      lastTurn,
	})
	if err != nil {
		e.logger.Error("dialog call failed", "user_id", sess.UserID, "error", err)
		return &Reply{Text: analysisErrorText, Menu: MenuAfterObjection}, nil
	}

	if _, err := e.updateSession(ctx, req.TelegramID, func(s *session.Session) {
		s.HasAnsweredCurrent = true
	}); err != nil {
		return nil, err
	}

	return &Reply{
		Text:         fmt.Sprintf("🗣 <b>Возражение:</b>\n%s\n\n", objection.Text),
		VoiceCaption: reply.Text,
		VoiceAudio:   e.pipeline.Speak(ctx, reply.Text),
		Feedback:     e.assess(ctx, sess.UserID, objection, text),
		Errors:       reply.Errors,
		Menu:         MenuAfterObjection,
		OfferRetry:   true,
	}, nil
}

func (e *Engine) handleVoice(ctx context.Context, req Request, sess *session.Session, audio []byte) (*Reply, error) {
	if sess.CurrentObjection == nil {
		return &Reply{Text: pickFirstText, Menu: MenuAfterObjection}, nil
	}
	objection := *sess.CurrentObjection

	result, err := e.pipeline.Process(ctx, VoiceRequest{
		UserID:        sess.UserID,
		Audio:         audio,
		ObjectionText: objection.Text,
		LastTurn:      e.latestTurn(ctx, sess.UserID),
	})
	if err != nil {
		e.logger.Error("voice pipeline failed", "user_id", sess.UserID, "error", err)
		return &Reply{Text: analysisErrorText, Menu: MenuAfterObjection}, nil
	}

	if _, err := e.updateSession(ctx, req.TelegramID, func(s *session.Session) {
		s.LastTranscript = result.Transcript
		if result.Recognized {
			s.HasAnsweredCurrent = true
		}
	}); err != nil {
		return nil, err
	}

	if !result.Recognized {
		return &Reply{
			Text:       fmt.Sprintf("⚠️ %s", result.Transcript),
			Transcript: result.Transcript,
			Menu:       MenuAfterObjection,
		}, nil
	}

	return &Reply{
		Text: fmt.Sprintf("🎤 <b>Вы сказали:</b>\n%s\n\n🗣 <b>Возражение:</b>\n%s\n\n",
			result.Transcript, objection.Text),
		Transcript:   result.Transcript,
		VoiceCaption: result.Reply.Text,
		VoiceAudio:   result.Audio,
		Feedback:     e.assess(ctx, sess.UserID, objection, result.Transcript),
		Errors:       result.Reply.Errors,
		Menu:         MenuAfterObjection,
		OfferRetry:   true,
	}, nil
}

func (e *Engine) handleRetry(ctx context.Context, req Request, sess *session.Session) (*Reply, error) {
	if sess.CurrentObjection == nil {
		return &Reply{Text: "❌ Сначала выберите возражение"}, nil
	}

	objectionText := sess.CurrentObjection.Text
	lastTurn := e.latestTurn(ctx, sess.UserID)
	if lastTurn != nil {
		objectionText = lastTurn.ObjectionText
	}

	if _, err := e.updateSession(ctx, req.TelegramID, func(s *session.Session) {
		s.Phase = session.PhaseAwaitingResponse
		if s.CurrentObjection != nil {
			s.CurrentObjection.Text = objectionText
		}
		s.HasAnsweredCurrent = false
	}); err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🗣 <b>Возражение клиента:</b>\n\"%s\"\n\n", objectionText)
	if lastTurn != nil {
		fmt.Fprintf(&sb, "📝 <b>Ваш последний ответ был:</b>\n\"%s\"\n\n", lastTurn.UserText)
		fmt.Fprintf(&sb, "👨‍🏫 <b>Михаил ответил:</b>\n\"%s\"\n\n", lastTurn.BotText)
	}
	sb.WriteString("Попробуйте ответить на это возражение ещё раз текстом или отправьте голосовое сообщение.")

	return &Reply{Text: sb.String(), Menu: MenuAfterObjection}, nil
}

// latestTurn loads the most recent exchange; failures just drop the context.
func (e *Engine) latestTurn(ctx context.Context, userID string) *history.ChatTurn {
	if e.history == nil || userID == "" {
		return nil
	}
	turn, err := e.history.Latest(ctx, userID)
	if err != nil {
		e.logger.Warn("failed to load latest chat turn", "user_id", userID, "error", err)
		return nil
	}
	return turn
}

// assess runs the optional answer analysis; its failure never affects the
// already-computed reply.
func (e *Engine) assess(ctx context.Context, userID string, objection session.Objection, answerText string) *dialog.Assessment {
	if e.analyzer == nil {
		return nil
	}
	var objectionID *string
	if objection.ID != "" {
		objectionID = &objection.ID
	}
	assessment, err := e.analyzer.Analyze(ctx, dialog.AnalyzeRequest{
		UserID:       userID,
		ObjectionID:  objectionID,
		Objection:    objection.Text,
		UserResponse: answerText,
	})
	if err != nil {
		e.logger.Warn("answer analysis failed", "user_id", userID, "error", err)
		return nil
	}
	return assessment
}

func presentObjection(text string) string {
	return fmt.Sprintf("🗣 <b>Возражение клиента:</b>\n\"%s\"\n\n%s", text, answerPromptText)
}
