package chat

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Transcription failure kinds, each mapped to a distinct user-facing
// message at the API boundary.
const (
	TranscriptionLanguageMismatch = "LANGUAGE_MISMATCH"
	TranscriptionEmpty            = "EMPTY_TRANSCRIPTION"
	TranscriptionTooShort         = "TOO_SHORT"
	TranscriptionAudioTooLarge    = "AUDIO_TOO_LARGE"
	TranscriptionInvalidAudio     = "INVALID_AUDIO"
	TranscriptionFailed           = "TRANSCRIPTION_FAILED"
)

const maxAudioBytes = 25 << 20 // vendor upload limit

// TranscriptionError is a typed transcription failure. Transcription never
// returns partial text alongside an error.
type TranscriptionError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *TranscriptionError) Error() string {
	return e.Kind + ": " + e.Message
}

// whisperLanguages maps ISO codes to the language names Whisper reports.
var whisperLanguages = map[string]string{
	"en": "english",
	"hi": "hindi",
	"sw": "swahili",
	"am": "amharic",
	"fr": "french",
}

// Transcribe converts audio to text via the one capable provider and
// validates the result. All failures are typed; none return partial text.
func (s *Service) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	if len(audio) == 0 {
		return "", &TranscriptionError{Kind: TranscriptionInvalidAudio, Message: "no audio data received"}
	}
	if len(audio) > maxAudioBytes {
		return "", &TranscriptionError{Kind: TranscriptionAudioTooLarge, Message: "audio exceeds the 25MB limit"}
	}

	transcriber, ok := s.registry.Transcriber()
	if !ok {
		return "", &TranscriptionError{Kind: TranscriptionFailed, Message: "no transcription-capable provider configured"}
	}

	result, err := transcriber.Transcribe(ctx, audio, language)
	if err != nil {
		s.logger.Warn("transcription call failed",
			zap.String("language", language),
			zap.Error(err))
		return "", &TranscriptionError{Kind: TranscriptionFailed, Message: "could not transcribe audio"}
	}

	return validateTranscript(result.Text, result.Language, language)
}

// validateTranscript applies the rejection rules to a vendor transcript.
func validateTranscript(text, detectedLanguage, requestedLanguage string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &TranscriptionError{Kind: TranscriptionEmpty, Message: "no speech detected in the audio"}
	}
	if len(strings.Fields(text)) < 2 {
		return "", &TranscriptionError{Kind: TranscriptionTooShort, Message: "transcription too short, please speak a full question"}
	}
	if requestedLanguage != "" && detectedLanguage != "" {
		if expected, ok := whisperLanguages[requestedLanguage]; ok && !strings.EqualFold(detectedLanguage, expected) {
			return "", &TranscriptionError{
				Kind:    TranscriptionLanguageMismatch,
				Message: "spoken language does not match the selected language",
			}
		}
	}
	return text, nil
}
