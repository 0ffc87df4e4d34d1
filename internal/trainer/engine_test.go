package trainer

import (
	"context"
	"strings"
	"testing"

	"github.com/holfizz/objection-trainer/internal/catalog"
	"github.com/holfizz/objection-trainer/internal/dialog"
	"github.com/holfizz/objection-trainer/internal/history"
	"github.com/holfizz/objection-trainer/internal/session"
	"github.com/holfizz/objection-trainer/internal/speech"
	"github.com/holfizz/objection-trainer/internal/users"
	"github.com/holfizz/objection-trainer/pkg/logging"
)

type stubUsers struct{}

func (stubUsers) GetOrCreate(ctx context.Context, telegramID string) (*users.User, error) {
	return &users.User{ID: "db-" + telegramID, TelegramID: telegramID}, nil
}

type stubCatalog struct {
	objection  *catalog.Objection
	randomErr  error
	categories map[string]string
	lastFilter string
}

func (s *stubCatalog) Random(ctx context.Context, categoryID string) (*catalog.Objection, error) {
	s.lastFilter = categoryID
	if s.randomErr != nil {
		return nil, s.randomErr
	}
	return s.objection, nil
}

func (s *stubCatalog) CategoryByName(ctx context.Context, name string) (*catalog.Category, error) {
	id, ok := s.categories[name]
	if !ok {
		return nil, catalog.ErrCategoryNotFound
	}
	return &catalog.Category{ID: id, Name: name}, nil
}

type stubHistory struct {
	turn *history.ChatTurn
}

func (s *stubHistory) Latest(ctx context.Context, userID string) (*history.ChatTurn, error) {
	return s.turn, nil
}

type engineFixture struct {
	engine      *Engine
	sessions    *session.MemoryStore
	provider    *stubProvider
	catalog     *stubCatalog
	history     *stubHistory
	synthesizer *stubSynthesizer
	normalizer  *stubNormalizer
	transcriber *stubTranscriber
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	sessions := session.NewMemoryStore(0)
	t.Cleanup(sessions.Close)

	provider := &stubProvider{reply: dialog.Reply{Text: "Ок, понял"}}
	cat := &stubCatalog{
		objection:  &catalog.Objection{ID: "obj-1", Text: "Это слишком дорого", CategoryID: "cat-price"},
		categories: map[string]string{"Цена": "cat-price"},
	}
	hist := &stubHistory{}
	synth := &stubSynthesizer{audio: []byte("voice")}
	norm := &stubNormalizer{out: []byte("RIFF")}
	trans := &stubTranscriber{transcript: speech.Transcript{Text: "Понимаю вас", Recognized: true}}

	engine := NewEngine(EngineConfig{
		Sessions: sessions,
		Users:    stubUsers{},
		Catalog:  cat,
		History:  hist,
		Provider: provider,
		Pipeline: NewPipeline(norm, trans, provider, synth, nil, logging.Default()),
		Logger:   logging.Default(),
	})
	return &engineFixture{
		engine:      engine,
		sessions:    sessions,
		provider:    provider,
		catalog:     cat,
		history:     hist,
		synthesizer: synth,
		normalizer:  norm,
		transcriber: trans,
	}
}

func (f *engineFixture) handle(t *testing.T, ev Event) *Reply {
	t.Helper()
	reply, err := f.engine.Handle(context.Background(), Request{TelegramID: "42", ChatID: 42, Event: ev})
	if err != nil {
		t.Fatalf("Handle(%T): %v", ev, err)
	}
	return reply
}

func (f *engineFixture) session(t *testing.T) *session.Session {
	t.Helper()
	sess, err := f.sessions.GetOrCreate(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	return sess
}

func TestStartResetsToIdleFromAnyPhase(t *testing.T) {
	f := newEngineFixture(t)
	f.handle(t, PickRandom{})
	if f.session(t).Phase != session.PhaseAwaitingResponse {
		t.Fatal("setup: expected awaiting_response")
	}

	reply := f.handle(t, Start{})
	if reply.Menu != MenuStart || !strings.Contains(reply.Text, "Добро пожаловать") {
		t.Fatalf("unexpected start reply: %#v", reply)
	}
	sess := f.session(t)
	if sess.Phase != session.PhaseIdle || sess.CurrentObjection != nil || sess.HasAnsweredCurrent {
		t.Fatalf("start must reset the session: %#v", sess)
	}
}

func TestPickRandomDrawsFromFullCatalog(t *testing.T) {
	f := newEngineFixture(t)
	reply := f.handle(t, PickRandom{})

	if f.catalog.lastFilter != "" {
		t.Fatalf("expected unfiltered draw, got category %q", f.catalog.lastFilter)
	}
	if !strings.Contains(reply.Text, "Это слишком дорого") || reply.Menu != MenuAfterObjection {
		t.Fatalf("unexpected reply: %#v", reply)
	}
	sess := f.session(t)
	if sess.Phase != session.PhaseAwaitingResponse || sess.HasAnsweredCurrent {
		t.Fatalf("unexpected session: %#v", sess)
	}
	if sess.CurrentObjection == nil || sess.CurrentObjection.ID != "obj-1" {
		t.Fatalf("unexpected objection: %#v", sess.CurrentObjection)
	}
}

func TestPickCategoryFiltersByResolvedID(t *testing.T) {
	f := newEngineFixture(t)
	f.handle(t, PickCategory{Name: "Цена"})
	if f.catalog.lastFilter != "cat-price" {
		t.Fatalf("expected cat-price filter, got %q", f.catalog.lastFilter)
	}
}

func TestPickCategoryUnknownFallsBackToFullCatalog(t *testing.T) {
	f := newEngineFixture(t)
	f.handle(t, PickCategory{Name: "Несуществующая"})
	if f.catalog.lastFilter != "" {
		t.Fatalf("expected unfiltered draw, got %q", f.catalog.lastFilter)
	}
}

func TestPickObjectionEmptyCatalog(t *testing.T) {
	f := newEngineFixture(t)
	f.catalog.randomErr = catalog.ErrNoObjections

	reply := f.handle(t, PickRandom{})
	if !strings.Contains(reply.Text, "❌") {
		t.Fatalf("expected error reply, got %#v", reply)
	}
	if f.session(t).CurrentObjection != nil {
		t.Fatal("failed draw must not set an objection")
	}
}

func TestAnswerWithoutObjectionIsRejected(t *testing.T) {
	f := newEngineFixture(t)
	for _, ev := range []Event{FreeText{Text: "мой ответ"}, Voice{Data: []byte("OggS")}} {
		reply := f.handle(t, ev)
		if reply.Text != pickFirstText {
			t.Fatalf("expected rejection for %T, got %q", ev, reply.Text)
		}
		if f.session(t).Phase != session.PhaseIdle {
			t.Fatalf("rejection must leave phase unchanged")
		}
	}
	if len(f.provider.requests) != 0 {
		t.Fatal("rejected events must not reach the dialog provider")
	}
}

func TestTextReplyStructuredErrors(t *testing.T) {
	f := newEngineFixture(t)
	f.provider.reply = dialog.Reply{Text: "Ок, понял", Errors: []string{"нет аргумента"}, Structured: true}

	f.handle(t, PickRandom{})
	reply := f.handle(t, FreeText{Text: "Это дорого"})

	if reply.VoiceCaption != "Ок, понял" {
		t.Fatalf("unexpected caption: %q", reply.VoiceCaption)
	}
	if len(reply.Errors) != 1 || reply.Errors[0] != "нет аргумента" {
		t.Fatalf("unexpected errors: %#v", reply.Errors)
	}
	if !strings.Contains(reply.Text, "Это слишком дорого") {
		t.Fatalf("reply must restate the objection: %q", reply.Text)
	}
	if !reply.OfferRetry || string(reply.VoiceAudio) != "voice" {
		t.Fatalf("unexpected reply: %#v", reply)
	}
	sess := f.session(t)
	if !sess.HasAnsweredCurrent || sess.Phase != session.PhaseAwaitingResponse {
		t.Fatalf("unexpected session after answer: %#v", sess)
	}
}

func TestTextReplyDialogFailureRollsBack(t *testing.T) {
	f := newEngineFixture(t)
	f.handle(t, PickRandom{})
	f.provider.err = dialog.ErrServiceUnavailable

	reply := f.handle(t, FreeText{Text: "ответ"})
	if reply.Text != analysisErrorText {
		t.Fatalf("unexpected reply: %q", reply.Text)
	}
	sess := f.session(t)
	if sess.HasAnsweredCurrent || sess.Phase != session.PhaseAwaitingResponse || sess.CurrentObjection == nil {
		t.Fatalf("hard failure must leave the stable state intact: %#v", sess)
	}
}

func TestTextReplySynthesisFailureDegradesToText(t *testing.T) {
	f := newEngineFixture(t)
	f.synthesizer.err = speech.ErrSynthesisTimeout

	f.handle(t, PickRandom{})
	reply := f.handle(t, FreeText{Text: "ответ"})
	if reply.VoiceCaption != "Ок, понял" || len(reply.VoiceAudio) != 0 {
		t.Fatalf("expected text-only degrade, got %#v", reply)
	}
}

func TestGenerationFlow(t *testing.T) {
	f := newEngineFixture(t)
	f.provider.objection = "У нас уже есть поставщик"

	reply := f.handle(t, RequestGeneration{})
	if reply.Text != askTopicText {
		t.Fatalf("unexpected prompt: %q", reply.Text)
	}
	if f.session(t).Phase != session.PhaseAwaitingTopic {
		t.Fatal("expected awaiting_topic phase")
	}

	reply = f.handle(t, FreeText{Text: "b2b продажи"})
	if !strings.Contains(reply.Text, "У нас уже есть поставщик") {
		t.Fatalf("unexpected reply: %q", reply.Text)
	}
	sess := f.session(t)
	if sess.Phase != session.PhaseAwaitingResponse {
		t.Fatalf("unexpected phase: %q", sess.Phase)
	}
	if sess.CurrentObjection == nil || sess.CurrentObjection.ID != "" {
		t.Fatalf("generated objection must have no catalog id: %#v", sess.CurrentObjection)
	}
}

func TestGenerationFailureReturnsToIdle(t *testing.T) {
	f := newEngineFixture(t)
	f.provider.genErr = dialog.ErrServiceUnavailable

	f.handle(t, RequestGeneration{})
	reply := f.handle(t, FreeText{Text: "тема"})
	if !strings.Contains(reply.Text, "Не удалось сгенерировать возражение") {
		t.Fatalf("unexpected reply: %q", reply.Text)
	}
	if f.session(t).Phase != session.PhaseIdle {
		t.Fatal("failed generation must return to idle")
	}
}

func TestTopicAnyMapsToDefault(t *testing.T) {
	f := newEngineFixture(t)
	var seenTopic string
	f.provider.objection = "возражение"
	f.engine.provider = providerFunc{
		respond: f.provider.Respond,
		generate: func(ctx context.Context, topic string) (string, error) {
			seenTopic = topic
			return "возражение", nil
		},
	}

	f.handle(t, RequestGeneration{})
	f.handle(t, FreeText{Text: "ЛЮБАЯ"})
	if seenTopic != "общая" {
		t.Fatalf("expected default topic, got %q", seenTopic)
	}
}

type providerFunc struct {
	respond  func(ctx context.Context, req dialog.RespondRequest) (dialog.Reply, error)
	generate func(ctx context.Context, topic string) (string, error)
}

func (p providerFunc) Respond(ctx context.Context, req dialog.RespondRequest) (dialog.Reply, error) {
	return p.respond(ctx, req)
}

func (p providerFunc) GenerateObjection(ctx context.Context, topic string) (string, error) {
	return p.generate(ctx, topic)
}

func TestVoiceReplyRoundTrip(t *testing.T) {
	f := newEngineFixture(t)
	f.handle(t, PickRandom{})

	reply := f.handle(t, Voice{Data: []byte("OggSvoice")})
	if reply.Transcript != "Понимаю вас" {
		t.Fatalf("unexpected transcript: %q", reply.Transcript)
	}
	if !strings.Contains(reply.Text, "Вы сказали:") || !strings.Contains(reply.Text, "Это слишком дорого") {
		t.Fatalf("unexpected text: %q", reply.Text)
	}
	if string(reply.VoiceAudio) != "voice" || !reply.OfferRetry {
		t.Fatalf("unexpected reply: %#v", reply)
	}
	if f.session(t).LastTranscript != "Понимаю вас" {
		t.Fatal("transcript must be stored on the session")
	}
}

func TestVoiceEmptyBytesSucceedsWithRecognitionError(t *testing.T) {
	f := newEngineFixture(t)
	f.normalizer.err = speech.ErrNoAudio
	f.handle(t, PickRandom{})

	reply := f.handle(t, Voice{Data: nil})
	if !strings.Contains(reply.Transcript, "Ошибка распознавания речи:") {
		t.Fatalf("unexpected transcript: %q", reply.Transcript)
	}
	if len(reply.VoiceAudio) != 0 {
		t.Fatal("expected empty audio")
	}
	if f.session(t).HasAnsweredCurrent {
		t.Fatal("unrecognized voice must not count as an answer")
	}
}

func TestVoiceUnrecognizedTranscriptIsWarning(t *testing.T) {
	f := newEngineFixture(t)
	f.transcriber.transcript = speech.Transcript{Text: "Текст не распознан. Пожалуйста, говорите чётче или попробуйте снова в более тихом месте.", Recognized: false}
	f.handle(t, PickRandom{})

	reply := f.handle(t, Voice{Data: []byte("OggS")})
	if !strings.HasPrefix(reply.Text, "⚠️") {
		t.Fatalf("unexpected text: %q", reply.Text)
	}
	if len(f.provider.requests) != 0 {
		t.Fatal("unrecognized voice must not reach the dialog provider")
	}
}

func TestRetryReloadsLatestTurn(t *testing.T) {
	f := newEngineFixture(t)
	f.handle(t, PickRandom{})
	f.handle(t, FreeText{Text: "мой первый ответ"})
	f.history.turn = &history.ChatTurn{
		ObjectionText: "Мне нужно подумать",
		UserText:      "мой первый ответ",
		BotText:       "Слабо.",
	}

	reply := f.handle(t, Retry{})
	if !strings.Contains(reply.Text, "Мне нужно подумать") ||
		!strings.Contains(reply.Text, "мой первый ответ") ||
		!strings.Contains(reply.Text, "Слабо.") {
		t.Fatalf("retry must replay the last exchange: %q", reply.Text)
	}
	sess := f.session(t)
	if sess.HasAnsweredCurrent {
		t.Fatal("retry must clear the answered flag")
	}
	if sess.CurrentObjection.Text != "Мне нужно подумать" {
		t.Fatalf("retry must reuse the stored objection text: %#v", sess.CurrentObjection)
	}
}

func TestRetryWithoutObjection(t *testing.T) {
	f := newEngineFixture(t)
	reply := f.handle(t, Retry{})
	if !strings.Contains(reply.Text, "Сначала выберите возражение") {
		t.Fatalf("unexpected reply: %q", reply.Text)
	}
}

func TestSessionBindsDurableUser(t *testing.T) {
	f := newEngineFixture(t)
	f.handle(t, Start{})
	if got := f.session(t).UserID; got != "db-42" {
		t.Fatalf("expected bound user id, got %q", got)
	}
}

func TestUnknownEventIsAnError(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.Handle(context.Background(), Request{TelegramID: "42", ChatID: 42, Event: nil})
	if err == nil {
		t.Fatal("expected error for nil event")
	}
}
