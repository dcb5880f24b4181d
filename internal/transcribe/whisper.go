package transcribe

import (
	"context"
	"io"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// whisperProviderConfidence is the confidence assigned to hosted Whisper
// results. The transcription endpoint does not report an utterance-level
// score, so a fixed prior above the fallback tier is used.
const whisperProviderConfidence = 0.9

// whisperClient calls the hosted OpenAI Whisper transcription endpoint.
type whisperClient struct {
	client   oai.Client
	language string
}

func newWhisperClient(apiKey, baseURL, language string) *whisperClient {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	return &whisperClient{
		client:   oai.NewClient(reqOpts...),
		language: iso639(language),
	}
}

func (w *whisperClient) transcribe(ctx context.Context, audio io.Reader) (Result, error) {
	resp, err := w.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		Model:    oai.AudioModelWhisper1,
		File:     oai.File(audio, "capture.wav", "audio/wav"),
		Language: oai.String(w.language),
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Transcript: strings.TrimSpace(resp.Text),
		Confidence: whisperProviderConfidence,
	}, nil
}

// iso639 reduces a BCP-47 tag ("de-DE") to the bare ISO-639-1 code ("de")
// Whisper expects.
func iso639(language string) string {
	code, _, _ := strings.Cut(language, "-")
	return strings.ToLower(code)
}
