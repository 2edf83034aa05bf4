package tts

import (
	"context"
	"fmt"
	log "log/slog"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	ttspb "cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"google.golang.org/api/option"

	"nebula/pkg/audioconv"
)

const googleRate = 24000

type googleClient interface {
	ListVoices(ctx context.Context, req *ttspb.ListVoicesRequest) ([]string, error)
	Synthesize(ctx context.Context, req *ttspb.SynthesizeSpeechRequest) ([]byte, error)
}

type cloudTTS struct {
	c *texttospeech.Client
}

func (g cloudTTS) ListVoices(ctx context.Context, req *ttspb.ListVoicesRequest) ([]string, error) {
	resp, err := g.c.ListVoices(ctx, req)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.GetVoices()))
	for _, v := range resp.GetVoices() {
		names = append(names, v.GetName())
	}
	return names, nil
}

func (g cloudTTS) Synthesize(ctx context.Context, req *ttspb.SynthesizeSpeechRequest) ([]byte, error) {
	resp, err := g.c.SynthesizeSpeech(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.GetAudioContent(), nil
}

// Google speaks with Cloud Text-to-Speech.
type Google struct {
	client   googleClient
	close    func() error
	language string
	out      Output
}

func NewGoogle(ctx context.Context, credentialsFile, language string, out Output) (*Google, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	c, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("tts client: %w", err)
	}

	return &Google{client: cloudTTS{c: c}, close: c.Close, language: language, out: out}, nil
}

func (g *Google) Close() error {
	if g.close == nil {
		return nil
	}
	return g.close()
}

func (g *Google) Voices(ctx context.Context) []string {
	names, err := g.client.ListVoices(ctx, &ttspb.ListVoicesRequest{LanguageCode: g.language})
	if err != nil {
		log.Warn("Failed to list voices", "backend", "google", "err", err)
		return nil
	}
	return names
}

func (g *Google) Speak(ctx context.Context, text, voice string) error {
	if text == "" {
		return nil
	}

	data, err := g.client.Synthesize(ctx, &ttspb.SynthesizeSpeechRequest{
		Input: &ttspb.SynthesisInput{
			InputSource: &ttspb.SynthesisInput_Text{Text: text},
		},
		Voice: &ttspb.VoiceSelectionParams{
			LanguageCode: g.language,
			Name:         voice,
		},
		AudioConfig: &ttspb.AudioConfig{
			AudioEncoding:   ttspb.AudioEncoding_LINEAR16,
			SampleRateHertz: googleRate,
		},
	})
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}

	// LINEAR16 responses carry a wav header
	samples, err := audioconv.Decode(data, googleRate)
	if err != nil {
		return fmt.Errorf("decode speech: %w", err)
	}

	log.Debug("Synthesized", "backend", "google", "voice", voice, "samples", len(samples))
	return g.out.Play(ctx, samples, googleRate)
}
