package speech

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/holfizz/objection-trainer/pkg/logging"
)

const defaultTranscodeTimeout = 30 * time.Second

// Normalizer converts arbitrary input audio into mono 16 kHz 16-bit linear
// PCM WAV, the canonical format the transcription service expects. It shells
// out to ffmpeg through per-call temp files that are removed on every exit
// path.
type Normalizer struct {
	ffmpegPath string
	timeout    time.Duration
	logger     *logging.Logger
}

// NewNormalizer builds a Normalizer around the given ffmpeg binary.
func NewNormalizer(ffmpegPath string, timeout time.Duration, logger *logging.Logger) *Normalizer {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = defaultTranscodeTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Normalizer{
		ffmpegPath: ffmpegPath,
		timeout:    timeout,
		logger:     logger,
	}
}

// Normalize transcodes audio into canonical PCM WAV bytes.
func (n *Normalizer) Normalize(ctx context.Context, audio []byte) ([]byte, error) {
	if len(audio) == 0 {
		return nil, ErrNoAudio
	}

	dir, err := os.MkdirTemp("", "objection-trainer-audio-")
	if err != nil {
		return nil, &TranscodeError{Reason: "create temp dir", Err: err}
	}
	defer os.RemoveAll(dir)

	inputPath := filepath.Join(dir, "input.ogg")
	outputPath := filepath.Join(dir, "output.wav")
	if err := os.WriteFile(inputPath, audio, 0o600); err != nil {
		return nil, &TranscodeError{Reason: "write input file", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	// mono, 16 kHz, 16-bit PCM
	cmd := exec.CommandContext(ctx, n.ffmpegPath,
		"-i", inputPath,
		"-ac", "1",
		"-ar", "16000",
		"-acodec", "pcm_s16le",
		"-y", outputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		n.logger.Error("ffmpeg failed", "error", err, "stderr", truncate(stderr.String(), 512))
		return nil, &TranscodeError{Reason: "ffmpeg exited with error", Err: err}
	}

	out, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, &TranscodeError{Reason: "read output file", Err: err}
	}
	if len(out) == 0 {
		return nil, &TranscodeError{Reason: "ffmpeg produced empty output"}
	}
	return out, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
