package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/eagleisbatman/farmerchat-server/internal/ai"
	"go.uber.org/zap"
)

// transcribingProvider is a fakeProvider that also carries the audio
// capability, so the registry's type assertion finds it.
type transcribingProvider struct {
	fakeProvider
	result *ai.Transcription
	err    error
}

func (p *transcribingProvider) Transcribe(_ context.Context, _ []byte, _ string) (*ai.Transcription, error) {
	return p.result, p.err
}

func newTranscribeService(p ai.Provider) *Service {
	registry := ai.NewRegistry("fake", zap.NewNop())
	registry.Register(p)
	return NewService(registry, newFakeStore(), &fakeRenderer{}, &fakeCounter{}, zap.NewNop())
}

func kindOf(t *testing.T, err error) string {
	t.Helper()
	var tErr *TranscriptionError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TranscriptionError, got %v", err)
	}
	return tErr.Kind
}

func TestTranscribeRejections(t *testing.T) {
	tests := []struct {
		name     string
		result   *ai.Transcription
		wantKind string
	}{
		{"single word is too short", &ai.Transcription{Text: "ok"}, TranscriptionTooShort},
		{"empty text means no speech", &ai.Transcription{Text: ""}, TranscriptionEmpty},
		{"whitespace only means no speech", &ai.Transcription{Text: "   "}, TranscriptionEmpty},
		{"detected language mismatch", &ai.Transcription{Text: "hello there friend", Language: "hindi"}, TranscriptionLanguageMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTranscribeService(&transcribingProvider{result: tt.result})
			_, err := svc.Transcribe(context.Background(), []byte("audio"), "en")
			if got := kindOf(t, err); got != tt.wantKind {
				t.Errorf("kind = %q, want %q", got, tt.wantKind)
			}
		})
	}
}

func TestTranscribeSuccess(t *testing.T) {
	svc := newTranscribeService(&transcribingProvider{
		result: &ai.Transcription{Text: "  how do I treat leaf rust  ", Language: "english"},
	})
	text, err := svc.Transcribe(context.Background(), []byte("audio"), "en")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "how do I treat leaf rust" {
		t.Errorf("text = %q", text)
	}
}

func TestTranscribeSizeAndInputValidation(t *testing.T) {
	svc := newTranscribeService(&transcribingProvider{result: &ai.Transcription{Text: "fine text"}})

	_, err := svc.Transcribe(context.Background(), nil, "en")
	if got := kindOf(t, err); got != TranscriptionInvalidAudio {
		t.Errorf("empty audio kind = %q", got)
	}

	huge := make([]byte, maxAudioBytes+1)
	_, err = svc.Transcribe(context.Background(), huge, "en")
	if got := kindOf(t, err); got != TranscriptionAudioTooLarge {
		t.Errorf("oversized audio kind = %q", got)
	}
}

func TestTranscribeVendorFailure(t *testing.T) {
	svc := newTranscribeService(&transcribingProvider{err: errors.New("whisper down")})
	_, err := svc.Transcribe(context.Background(), []byte("audio"), "en")
	if got := kindOf(t, err); got != TranscriptionFailed {
		t.Errorf("kind = %q, want %q", got, TranscriptionFailed)
	}
}

func TestTranscribeWithoutCapableProvider(t *testing.T) {
	registry := ai.NewRegistry("fake", zap.NewNop())
	registry.Register(&fakeProvider{generate: func([]ai.Message) (string, error) { return "", nil }})
	svc := NewService(registry, newFakeStore(), &fakeRenderer{}, &fakeCounter{}, zap.NewNop())

	_, err := svc.Transcribe(context.Background(), []byte("audio"), "en")
	if got := kindOf(t, err); got != TranscriptionFailed {
		t.Errorf("kind = %q, want %q", got, TranscriptionFailed)
	}
}
