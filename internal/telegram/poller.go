package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/holfizz/objection-trainer/internal/trainer"
	"github.com/holfizz/objection-trainer/pkg/logging"
)

const (
	processingVoiceText = "🎧 Обрабатываю ваше голосовое сообщение..."
	voiceErrorText      = "❌ Произошла ошибка при обработке голосового сообщения. Пожалуйста, попробуйте еще раз."
	generalErrorText    = "Произошла ошибка. Пожалуйста, попробуйте позже."
	retryAckText        = "✅ Отвечайте на возражение!"
	feedbackHeader      = "👨‍🏫 Ответ Гребенюка:"
)

type eventHandler interface {
	Handle(ctx context.Context, req trainer.Request) (*trainer.Reply, error)
}

// PollerConfig controls the update loop.
type PollerConfig struct {
	PollTimeout  time.Duration
	EventTimeout time.Duration
	IdleTimeout  time.Duration
	Logger       *logging.Logger
}

// Poller drives the bot: a sequential getUpdates loop fans updates out to
// per-chat workers, so one user's events are handled in arrival order while
// different users proceed concurrently.
type Poller struct {
	client       *Client
	engine       eventHandler
	pollTimeout  time.Duration
	eventTimeout time.Duration
	idleTimeout  time.Duration
	logger       *logging.Logger

	mu      sync.Mutex
	workers map[string]chan *inbound
	wg      sync.WaitGroup
}

// NewPoller creates the update loop around a client and the trainer engine.
func NewPoller(client *Client, engine eventHandler, cfg PollerConfig) *Poller {
	if client == nil {
		panic("telegram: client required")
	}
	if engine == nil {
		panic("telegram: engine required")
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	eventTimeout := cfg.EventTimeout
	if eventTimeout <= 0 {
		eventTimeout = 3 * time.Minute
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Poller{
		client:       client,
		engine:       engine,
		pollTimeout:  pollTimeout,
		eventTimeout: eventTimeout,
		idleTimeout:  idleTimeout,
		logger:       logger,
		workers:      make(map[string]chan *inbound),
	}
}

// Run polls until the context is canceled, then waits for in-flight events.
func (p *Poller) Run(ctx context.Context) error {
	var offset int64
	for {
		updates, err := p.client.GetUpdates(ctx, offset, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				p.wg.Wait()
				return ctx.Err()
			}
			p.logger.Error("getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
				p.wg.Wait()
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			in, ok := mapUpdate(u)
			if !ok {
				continue
			}
			p.dispatch(ctx, in)
		}
	}
}

// dispatch hands the event to the chat's worker, starting one if needed. The
// send is non-blocking; a flooded chat drops the event rather than stalling
// the poll loop.
func (p *Poller) dispatch(ctx context.Context, in *inbound) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.workers[in.telegramID]
	if !ok {
		ch = make(chan *inbound, 32)
		p.workers[in.telegramID] = ch
		p.wg.Add(1)
		go p.worker(ctx, in.telegramID, ch)
	}
	select {
	case ch <- in:
	default:
		p.logger.Warn("dropping event for flooded chat", "telegram_id", in.telegramID)
	}
}

func (p *Poller) worker(ctx context.Context, key string, ch chan *inbound) {
	defer p.wg.Done()
	idle := time.NewTimer(p.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			delete(p.workers, key)
			p.mu.Unlock()
			return
		case in := <-ch:
			p.handle(ctx, in)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.idleTimeout)
		case <-idle.C:
			p.mu.Lock()
			if len(ch) == 0 {
				delete(p.workers, key)
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			idle.Reset(p.idleTimeout)
		}
	}
}

func (p *Poller) handle(ctx context.Context, in *inbound) {
	ctx, cancel := context.WithTimeout(ctx, p.eventTimeout)
	defer cancel()

	var noticeID int64
	if in.voiceFileID != "" {
		if notice, err := p.client.SendMessage(ctx, SendMessageRequest{ChatID: in.chatID, Text: processingVoiceText}); err == nil {
			noticeID = notice.MessageID
		}
		audio, err := p.downloadVoice(ctx, in.voiceFileID)
		if err != nil {
			p.logger.Error("failed to fetch voice note", "telegram_id", in.telegramID, "error", err)
			if noticeID != 0 {
				_ = p.client.DeleteMessage(ctx, in.chatID, noticeID)
			}
			p.sendText(ctx, in.chatID, voiceErrorText, nil)
			return
		}
		in.event = trainer.Voice{Data: audio}
	} else if _, ok := in.event.(trainer.FreeText); ok {
		if err := p.client.SendChatAction(ctx, in.chatID, "typing"); err != nil {
			p.logger.Debug("sendChatAction failed", "error", err)
		}
	}

	reply, err := p.engine.Handle(ctx, trainer.Request{
		TelegramID: in.telegramID,
		ChatID:     in.chatID,
		Event:      in.event,
	})

	if noticeID != 0 {
		if delErr := p.client.DeleteMessage(ctx, in.chatID, noticeID); delErr != nil {
			p.logger.Debug("failed to delete processing notice", "error", delErr)
		}
	}

	if err != nil {
		p.logger.Error("event handling failed", "telegram_id", in.telegramID, "error", err)
		if in.callbackID != "" {
			p.answerCallback(ctx, in.callbackID, "❌ Произошла ошибка")
			return
		}
		p.sendText(ctx, in.chatID, generalErrorText, nil)
		return
	}

	p.render(ctx, in, reply)
}

// render delivers the engine's payload: the main text, then the errors block,
// then voice feedback (or its text fallback), mirroring the reply layout the
// bot's users expect.
func (p *Poller) render(ctx context.Context, in *inbound, reply *trainer.Reply) {
	if in.callbackID != "" {
		if reply.Menu == trainer.MenuNone {
			// Retry rejection, just answer the button press.
			p.answerCallback(ctx, in.callbackID, reply.Text)
			return
		}
		p.answerCallback(ctx, in.callbackID, retryAckText)
		if in.callbackMessageID != 0 {
			empty := InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{}}
			if err := p.client.EditMessageReplyMarkup(ctx, in.callbackChatID, in.callbackMessageID, empty); err != nil {
				p.logger.Debug("failed to clear inline keyboard", "error", err)
			}
		}
	}

	if reply.Text != "" {
		p.sendText(ctx, in.chatID, reply.Text, keyboardFor(reply.Menu))
	}

	if len(reply.Errors) > 0 {
		var sb strings.Builder
		sb.WriteString("⚠️ <b>Типичные ошибки:</b>\n")
		for i, e := range reply.Errors {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, e)
		}
		p.sendText(ctx, in.chatID, sb.String(), nil)
	}

	if reply.VoiceCaption == "" {
		return
	}
	var markup any
	if reply.OfferRetry {
		markup = tryAgainKeyboard
	}
	if len(reply.VoiceAudio) > 0 {
		caption := fmt.Sprintf("%s\n<blockquote expandable>%s</blockquote>", feedbackHeader, reply.VoiceCaption)
		_, err := p.client.SendVoice(ctx, SendVoiceRequest{
			ChatID:      in.chatID,
			Audio:       reply.VoiceAudio,
			Caption:     caption,
			ParseMode:   "HTML",
			ReplyMarkup: markup,
		})
		if err == nil {
			return
		}
		p.logger.Warn("voice delivery failed, falling back to text", "error", err)
	}
	p.sendText(ctx, in.chatID, fmt.Sprintf("%s\n%s", feedbackHeader, reply.VoiceCaption), markup)
}

func (p *Poller) downloadVoice(ctx context.Context, fileID string) ([]byte, error) {
	file, err := p.client.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return p.client.DownloadFile(ctx, file.FilePath)
}

func (p *Poller) sendText(ctx context.Context, chatID int64, text string, markup any) {
	_, err := p.client.SendMessage(ctx, SendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   "HTML",
		ReplyMarkup: markup,
	})
	if err != nil {
		p.logger.Error("sendMessage failed", "chat_id", chatID, "error", err)
	}
}

func (p *Poller) answerCallback(ctx context.Context, callbackID, text string) {
	if err := p.client.AnswerCallbackQuery(ctx, callbackID, text); err != nil {
		p.logger.Debug("answerCallbackQuery failed", "error", err)
	}
}
