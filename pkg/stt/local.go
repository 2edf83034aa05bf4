package stt

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"sync"

	"nebula/internal/audio"
	"nebula/internal/voice"
)

// UtteranceSource yields one slice of samples per spoken phrase.
type UtteranceSource interface {
	Capture(ctx context.Context, fn func(pcm []float32) bool) error
}

type transcriber interface {
	TranscribePCM(ctx context.Context, pcm []float32, opt Options) (Result, error)
}

// Local recognizes speech on this machine: the source cuts the microphone
// into utterances and whisper transcribes each one into a final result.
type Local struct {
	src UtteranceSource
	tr  transcriber
	opt Options
}

func NewLocal(src UtteranceSource, tr *Transcriber, opt Options) *Local {
	l := &Local{src: src, opt: opt}
	if tr != nil {
		l.tr = tr
	}
	return l
}

func (l *Local) Start(ctx context.Context, cfg voice.RecognitionConfig, cb voice.Callbacks) (voice.Stream, error) {
	if l.src == nil || l.tr == nil {
		return nil, voice.ErrUnavailable
	}

	opt := l.opt
	if lang := whisperLanguage(cfg.Language); lang != "" {
		opt.Language = lang
	}

	s := newStream(ctx)
	go s.runLocal(l, opt, cfg, cb)
	return s, nil
}

func (s *stream) runLocal(l *Local, opt Options, cfg voice.RecognitionConfig, cb voice.Callbacks) {
	defer s.cancelAll()

	err := l.src.Capture(s.captureCtx, func(pcm []float32) bool {
		res, err := l.tr.TranscribePCM(s.ctx, pcm, opt)
		if err != nil {
			if s.ctx.Err() != nil {
				return false
			}
			log.Warn("Transcription failed", "samples", len(pcm), "err", err)
			s.emitError(cb, err)
			return true
		}

		if text := strings.TrimSpace(res.Text); text != "" {
			log.Debug("Transcribed", "text", text, "lang", res.Language)
			s.emitResult(cb, voice.RecognitionEvent{Transcript: text, IsFinal: true})
		}
		return cfg.Continuous && s.captureCtx.Err() == nil
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		s.emitError(cb, classifyCapture(err))
	}
	s.emitEnd(cb)
}

// whisperLanguage maps a BCP 47 tag to the two letter code whisper uses.
func whisperLanguage(tag string) string {
	lang, _, _ := strings.Cut(strings.ToLower(tag), "-")
	return lang
}

func classifyCapture(err error) error {
	switch {
	case errors.Is(err, audio.ErrDeviceDenied):
		return fmt.Errorf("%w: %v", voice.ErrPermissionDenied, err)
	case errors.Is(err, audio.ErrNoDevice):
		return fmt.Errorf("%w: %v", voice.ErrUnavailable, err)
	default:
		return err
	}
}

// stream is the shared voice.Stream handle. Abort cancels everything at
// once; Stop only stops capturing, so an utterance already being
// transcribed is still delivered. Neither produces OnEnd.
type stream struct {
	ctx        context.Context
	cancel     context.CancelFunc
	captureCtx context.Context
	stopCap    context.CancelFunc

	mu      sync.Mutex
	closed  bool
	aborted bool
}

func newStream(parent context.Context) *stream {
	ctx, cancel := context.WithCancel(parent)
	captureCtx, stopCap := context.WithCancel(ctx)
	return &stream{ctx: ctx, cancel: cancel, captureCtx: captureCtx, stopCap: stopCap}
}

func (s *stream) Abort() {
	s.mu.Lock()
	s.closed = true
	s.aborted = true
	s.mu.Unlock()
	s.cancel()
}

func (s *stream) Stop() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stopCap()
}

func (s *stream) cancelAll() {
	s.cancel()
}

func (s *stream) emitResult(cb voice.Callbacks, ev voice.RecognitionEvent) {
	s.mu.Lock()
	aborted := s.aborted
	s.mu.Unlock()
	if !aborted && cb.OnResult != nil {
		cb.OnResult(ev)
	}
}

func (s *stream) emitError(cb voice.Callbacks, err error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed && cb.OnError != nil {
		cb.OnError(err)
	}
}

func (s *stream) emitEnd(cb voice.Callbacks) {
	s.mu.Lock()
	closed := s.closed
	s.closed = true
	s.mu.Unlock()
	if !closed && cb.OnEnd != nil {
		cb.OnEnd()
	}
}
