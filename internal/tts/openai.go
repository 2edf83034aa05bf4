package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"

	"nebula/pkg/audioconv"
)

const (
	openAIRate         = 24000
	defaultOpenAIVoice = "nova"
)

var openAIVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer", "verse"}

// OpenAI synthesizes with the audio speech endpoint and plays the result
// locally.
type OpenAI struct {
	client openai.Client
	model  openai.SpeechModel
	out    Output
}

func NewOpenAI(client openai.Client, out Output) *OpenAI {
	return &OpenAI{client: client, model: openai.SpeechModelGPT4oMiniTTS, out: out}
}

func (o *OpenAI) Voices(context.Context) []string {
	return append([]string(nil), openAIVoices...)
}

func (o *OpenAI) Speak(ctx context.Context, text, voice string) error {
	if text == "" {
		return nil
	}
	if voice == "" {
		voice = defaultOpenAIVoice
	}

	resp, err := o.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          o.model,
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatWAV,
	})
	if err != nil {
		return fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read speech: %w", err)
	}

	samples, err := audioconv.Decode(data, openAIRate)
	if errors.Is(err, audioconv.ErrUnsupported) {
		// headerless pcm: 24kHz s16le
		samples, err = audioconv.DecodePCM16(data, openAIRate, openAIRate), nil
	}
	if err != nil {
		return fmt.Errorf("decode speech: %w", err)
	}

	log.Debug("Synthesized", "backend", "openai", "voice", voice, "samples", len(samples))
	return o.out.Play(ctx, samples, openAIRate)
}
