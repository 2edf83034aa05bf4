package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"nebula/internal/audio"
	"nebula/internal/voice"
	"nebula/pkg/audioconv"
)

// FrameSource streams raw microphone frames.
type FrameSource interface {
	Frames(ctx context.Context, fn func(frame []float32) bool) error
}

// Google streams microphone audio to Cloud Speech-to-Text. A stream ends
// when the service closes it (it caps stream length), which the session
// answers with a restart.
type Google struct {
	src    FrameSource
	client *speech.Client
	open   func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error)
}

func NewGoogle(ctx context.Context, src FrameSource, credentialsFile string) (*Google, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}

	g := &Google{src: src, client: client}
	g.open = func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
		return client.StreamingRecognize(ctx)
	}
	return g, nil
}

func (g *Google) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *Google) Start(ctx context.Context, cfg voice.RecognitionConfig, cb voice.Callbacks) (voice.Stream, error) {
	s := newStream(ctx)

	rs, err := g.open(s.ctx)
	if err != nil {
		s.cancelAll()
		return nil, classifyGoogle(err)
	}

	if err := rs.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: audio.SampleRate,
					LanguageCode:    cfg.Language,
				},
				InterimResults:  cfg.InterimResults,
				SingleUtterance: !cfg.Continuous,
			},
		},
	}); err != nil {
		s.cancelAll()
		return nil, fmt.Errorf("send config: %w", classifyGoogle(err))
	}

	go s.sendGoogle(g.src, rs, cb)
	go s.recvGoogle(rs, cb)
	return s, nil
}

func (s *stream) sendGoogle(src FrameSource, rs speechpb.Speech_StreamingRecognizeClient, cb voice.Callbacks) {
	var sendErr error
	err := src.Frames(s.captureCtx, func(frame []float32) bool {
		sendErr = rs.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
				AudioContent: audioconv.EncodePCM16(frame),
			},
		})
		return sendErr == nil
	})

	if err := rs.CloseSend(); err != nil {
		log.Debug("Close send failed", "err", err)
	}

	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		s.emitError(cb, classifyCapture(err))
		s.cancelAll()
	case sendErr != nil && !errors.Is(sendErr, io.EOF):
		log.Warn("Failed to send audio", "err", sendErr)
	}
}

func (s *stream) recvGoogle(rs speechpb.Speech_StreamingRecognizeClient, cb voice.Callbacks) {
	defer s.cancelAll()

	for {
		resp, err := rs.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if s.ctx.Err() == nil {
				log.Warn("Recognition stream failed", "err", err)
				s.emitError(cb, classifyGoogle(err))
			}
			break
		}

		for _, result := range resp.GetResults() {
			alts := result.GetAlternatives()
			if len(alts) == 0 {
				continue
			}
			text := strings.TrimSpace(alts[0].GetTranscript())
			if text == "" {
				continue
			}
			s.emitResult(cb, voice.RecognitionEvent{Transcript: text, IsFinal: result.GetIsFinal()})
		}
	}

	s.emitEnd(cb)
}

func classifyGoogle(err error) error {
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied, codes.Unimplemented:
		return fmt.Errorf("%w: %v", voice.ErrUnavailable, err)
	default:
		return err
	}
}
