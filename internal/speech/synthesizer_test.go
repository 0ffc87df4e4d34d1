package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestSynthesizer(t *testing.T, handler http.Handler, maxAttempts int, interval time.Duration) (*Synthesizer, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewSynthesizer(SynthesizerConfig{
		BaseURL:      server.URL,
		APIKey:       "tts-key",
		VoiceID:      "voice-1",
		PollInterval: interval,
		MaxAttempts:  maxAttempts,
	}), server
}

func TestSynthesizeRoundTrip(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	var serverURL string
	mux.HandleFunc("POST /dev/api/v1/audios/text-to-speech", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Token") != "tts-key" {
			t.Errorf("missing api token header")
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["voice"] != "voice-1" || payload["text"] != "Понимаю вас" {
			t.Errorf("unexpected payload: %v", payload)
		}
		if payload["precision"] != float64(100) {
			t.Errorf("expected precision 100, got %v", payload["precision"])
		}
		fmt.Fprint(w, `{"audioId":"job-42"}`)
	})
	mux.HandleFunc("GET /dev/api/v1/audios/job-42", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 2 {
			fmt.Fprintf(w, `{"status":%q}`, jobStatusProcessing)
			return
		}
		fmt.Fprintf(w, `{"status":%q}`, jobStatusAvailable)
	})
	mux.HandleFunc("GET /dev/api/v1/audios/job-42/download", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"audioFileUrl":%q}`, serverURL+"/files/job-42.mp3")
	})
	mux.HandleFunc("GET /files/job-42.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OggSvoice-bytes"))
	})

	synth, server := newTestSynthesizer(t, mux, 5, 5*time.Millisecond)
	serverURL = server.URL

	audio, err := synth.Synthesize(context.Background(), "Понимаю вас")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "OggSvoice-bytes" {
		t.Fatalf("unexpected audio bytes: %q", audio)
	}
	if got := polls.Load(); got != 2 {
		t.Fatalf("expected 2 status polls, got %d", got)
	}
}

func TestSynthesizePollBudgetExhausted(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /dev/api/v1/audios/text-to-speech", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"audioId":"job-stuck"}`)
	})
	mux.HandleFunc("GET /dev/api/v1/audios/job-stuck", func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		fmt.Fprintf(w, `{"status":%q}`, jobStatusProcessing)
	})

	synth, _ := newTestSynthesizer(t, mux, 3, time.Millisecond)
	_, err := synth.Synthesize(context.Background(), "текст")
	if !errors.Is(err, ErrSynthesisTimeout) {
		t.Fatalf("expected ErrSynthesisTimeout, got %v", err)
	}
	if got := polls.Load(); got != 3 {
		t.Fatalf("expected exactly 3 polls, got %d", got)
	}
}

func TestSynthesizeWaitsBeforeFirstPoll(t *testing.T) {
	interval := 40 * time.Millisecond
	var submitted, firstPoll time.Time
	mux := http.NewServeMux()
	mux.HandleFunc("POST /dev/api/v1/audios/text-to-speech", func(w http.ResponseWriter, r *http.Request) {
		submitted = time.Now()
		fmt.Fprint(w, `{"audioId":"job-7"}`)
	})
	mux.HandleFunc("GET /dev/api/v1/audios/job-7", func(w http.ResponseWriter, r *http.Request) {
		firstPoll = time.Now()
		fmt.Fprintf(w, `{"status":%q}`, jobStatusAvailable)
	})
	var serverURL string
	mux.HandleFunc("GET /dev/api/v1/audios/job-7/download", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"audioFileUrl":%q}`, serverURL+"/files/job-7.mp3")
	})
	mux.HandleFunc("GET /files/job-7.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("a"))
	})

	synth, server := newTestSynthesizer(t, mux, 5, interval)
	serverURL = server.URL

	if _, err := synth.Synthesize(context.Background(), "текст"); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if elapsed := firstPoll.Sub(submitted); elapsed < interval {
		t.Fatalf("first poll fired after %v, want at least %v", elapsed, interval)
	}
}

func TestSynthesizeCancellationDuringWait(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /dev/api/v1/audios/text-to-speech", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"audioId":"job-slow"}`)
	})
	mux.HandleFunc("GET /dev/api/v1/audios/job-slow", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"status":%q}`, jobStatusProcessing)
	})

	synth, _ := newTestSynthesizer(t, mux, 30, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := synth.Synthesize(ctx, "текст")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}

func TestSynthesizeMissingConfig(t *testing.T) {
	var cfgErr *ConfigError

	synth := NewSynthesizer(SynthesizerConfig{APIKey: "tts-key"})
	if _, err := synth.Synthesize(context.Background(), "текст"); !errors.As(err, &cfgErr) || cfgErr.Missing != "VOICE_ID" {
		t.Fatalf("expected VOICE_ID config error, got %v", err)
	}

	synth = NewSynthesizer(SynthesizerConfig{VoiceID: "voice-1"})
	if _, err := synth.Synthesize(context.Background(), "текст"); !errors.As(err, &cfgErr) || cfgErr.Missing != "VOICE_AI_API_KEY" {
		t.Fatalf("expected VOICE_AI_API_KEY config error, got %v", err)
	}
}

func TestSynthesizeSubmitWithoutJobID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /dev/api/v1/audios/text-to-speech", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	synth, _ := newTestSynthesizer(t, mux, 3, time.Millisecond)
	_, err := synth.Synthesize(context.Background(), "текст")
	if err == nil || !strings.Contains(err.Error(), "no job id") {
		t.Fatalf("expected missing job id error, got %v", err)
	}
}

func TestListMyVoices(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /dev/api/v1/voices/my", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"voice-1","name":"Grebenuk"}]`)
	})
	synth, _ := newTestSynthesizer(t, mux, 3, time.Millisecond)
	voices, err := synth.ListMyVoices(context.Background())
	if err != nil {
		t.Fatalf("ListMyVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].Name != "Grebenuk" {
		t.Fatalf("unexpected voices: %#v", voices)
	}
}
