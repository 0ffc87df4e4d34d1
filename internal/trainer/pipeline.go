package trainer

import (
	"context"
	"fmt"
	"time"

	"github.com/holfizz/objection-trainer/internal/dialog"
	"github.com/holfizz/objection-trainer/internal/history"
	"github.com/holfizz/objection-trainer/internal/observability/metrics"
	"github.com/holfizz/objection-trainer/internal/speech"
	"github.com/holfizz/objection-trainer/pkg/logging"
)

type normalizer interface {
	Normalize(ctx context.Context, audio []byte) ([]byte, error)
}

type transcriber interface {
	Transcribe(ctx context.Context, wav []byte) speech.Transcript
}

type synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// VoiceRequest is one spoken answer entering the round-trip.
type VoiceRequest struct {
	UserID        string
	Audio         []byte
	ObjectionText string
	LastTurn      *history.ChatTurn
}

// VoiceResult is the pipeline outcome. Recognized=false means the round-trip
// stopped at transcription; Reply and Audio are then empty.
type VoiceResult struct {
	Transcript string
	Recognized bool
	Reply      dialog.Reply
	Audio      []byte
}

// Pipeline composes normalize, transcribe, dialog, and synthesis into one
// operation and owns the partial-failure policy between the stages. Only a
// dialog failure is hard; every other stage degrades to a text result.
type Pipeline struct {
	normalizer  normalizer
	transcriber transcriber
	provider    dialog.Provider
	synthesizer synthesizer
	metrics     *metrics.PipelineMetrics
	logger      *logging.Logger
}

// NewPipeline wires the four stages together.
func NewPipeline(n normalizer, t transcriber, p dialog.Provider, s synthesizer, m *metrics.PipelineMetrics, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{
		normalizer:  n,
		transcriber: t,
		provider:    p,
		synthesizer: s,
		metrics:     m,
		logger:      logger,
	}
}

// Process runs the full voice round-trip. Errors are returned only when the
// dialog stage fails; recognition problems come back as unrecognized results.
func (p *Pipeline) Process(ctx context.Context, req VoiceRequest) (*VoiceResult, error) {
	wav, err := p.stageNormalize(ctx, req.Audio)
	if err != nil {
		p.logger.Warn("audio normalization failed", "user_id", req.UserID, "error", err)
		p.metrics.ObserveStageFailure("normalize")
		return &VoiceResult{
			Transcript: fmt.Sprintf("Ошибка распознавания речи: %v", err),
			Recognized: false,
		}, nil
	}

	transcript := p.stageTranscribe(ctx, wav)
	if !transcript.Recognized {
		p.metrics.ObserveStageFailure("transcription")
		return &VoiceResult{Transcript: transcript.Text, Recognized: false}, nil
	}

	reply, err := p.stageRespond(ctx, dialog.RespondRequest{
		UserID:        req.UserID,
		UserText:      transcript.Text,
		ObjectionText: req.ObjectionText,
		LastTurn:      req.LastTurn,
	})
	if err != nil {
		p.metrics.ObserveStageFailure("dialog")
		return nil, err
	}

	audio := p.Speak(ctx, reply.Text)
	return &VoiceResult{
		Transcript: transcript.Text,
		Recognized: true,
		Reply:      reply,
		Audio:      audio,
	}, nil
}

// Speak synthesizes reply audio, degrading to empty bytes on any failure.
func (p *Pipeline) Speak(ctx context.Context, text string) []byte {
	if text == "" {
		return nil
	}
	start := time.Now()
	audio, err := p.synthesizer.Synthesize(ctx, text)
	p.metrics.ObserveStageLatency("synthesis", time.Since(start).Seconds())
	if err != nil {
		p.logger.Warn("speech synthesis failed, replying with text only", "error", err)
		p.metrics.ObserveStageFailure("synthesis")
		return nil
	}
	return audio
}

func (p *Pipeline) stageNormalize(ctx context.Context, audio []byte) ([]byte, error) {
	start := time.Now()
	wav, err := p.normalizer.Normalize(ctx, audio)
	p.metrics.ObserveStageLatency("normalize", time.Since(start).Seconds())
	return wav, err
}

func (p *Pipeline) stageTranscribe(ctx context.Context, wav []byte) speech.Transcript {
	start := time.Now()
	transcript := p.transcriber.Transcribe(ctx, wav)
	p.metrics.ObserveStageLatency("transcription", time.Since(start).Seconds())
	return transcript
}

func (p *Pipeline) stageRespond(ctx context.Context, req dialog.RespondRequest) (dialog.Reply, error) {
	start := time.Now()
	reply, err := p.provider.Respond(ctx, req)
	p.metrics.ObserveStageLatency("dialog", time.Since(start).Seconds())
	return reply, err
}
