package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"nebula/internal/audio"
	"nebula/internal/voice"
)

type recorded struct {
	results chan voice.RecognitionEvent
	errs    chan error
	ends    chan struct{}
}

func newRecorded() *recorded {
	return &recorded{
		results: make(chan voice.RecognitionEvent, 16),
		errs:    make(chan error, 16),
		ends:    make(chan struct{}, 16),
	}
}

func (r *recorded) callbacks() voice.Callbacks {
	return voice.Callbacks{
		OnResult: func(ev voice.RecognitionEvent) { r.results <- ev },
		OnError:  func(err error) { r.errs <- err },
		OnEnd:    func() { r.ends <- struct{}{} },
	}
}

func (r *recorded) nextResult(t *testing.T) voice.RecognitionEvent {
	t.Helper()
	select {
	case ev := <-r.results:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no result")
		return voice.RecognitionEvent{}
	}
}

func (r *recorded) waitEnd(t *testing.T) {
	t.Helper()
	select {
	case <-r.ends:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream never ended")
	}
}

func (r *recorded) noEnd(t *testing.T) {
	t.Helper()
	select {
	case <-r.ends:
		t.Fatalf("unexpected end")
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeSource yields its utterances, then fails with err or blocks until
// cancelled.
type fakeSource struct {
	utterances [][]float32
	err        error
}

func (s *fakeSource) Capture(ctx context.Context, fn func([]float32) bool) error {
	for _, u := range s.utterances {
		if !fn(u) {
			return nil
		}
	}
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *fakeSource) Frames(ctx context.Context, fn func([]float32) bool) error {
	return s.Capture(ctx, fn)
}

// fakeTranscriber names each utterance by its length.
type fakeTranscriber struct {
	texts map[int]string
	lang  string
}

func (f *fakeTranscriber) TranscribePCM(_ context.Context, pcm []float32, opt Options) (Result, error) {
	f.lang = opt.Language
	text, ok := f.texts[len(pcm)]
	if !ok {
		return Result{}, fmt.Errorf("no transcript for %d samples", len(pcm))
	}
	return Result{Text: text}, nil
}

func continuous() voice.RecognitionConfig {
	return voice.RecognitionConfig{Language: "en-US", Continuous: true}
}

func TestLocalDeliversFinalResults(t *testing.T) {
	tr := &fakeTranscriber{texts: map[int]string{1: "hey dom", 2: "  ", 3: "read tasks"}}
	src := &fakeSource{utterances: [][]float32{make([]float32, 1), make([]float32, 2), make([]float32, 3)}}
	l := &Local{src: src, tr: tr, opt: DefaultOptions()}

	rec := newRecorded()
	s, err := l.Start(context.Background(), continuous(), rec.callbacks())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if ev := rec.nextResult(t); ev.Transcript != "hey dom" || !ev.IsFinal {
		t.Fatalf("first = %+v", ev)
	}
	if ev := rec.nextResult(t); ev.Transcript != "read tasks" {
		t.Fatalf("second = %+v", ev)
	}
	if tr.lang != "en" {
		t.Fatalf("language = %q", tr.lang)
	}

	s.Abort()
	rec.noEnd(t)
}

func TestLocalSingleUtteranceEnds(t *testing.T) {
	tr := &fakeTranscriber{texts: map[int]string{1: "hello", 2: "never"}}
	src := &fakeSource{utterances: [][]float32{make([]float32, 1), make([]float32, 2)}}
	l := &Local{src: src, tr: tr}

	rec := newRecorded()
	if _, err := l.Start(context.Background(), voice.RecognitionConfig{Language: "en-US"}, rec.callbacks()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if ev := rec.nextResult(t); ev.Transcript != "hello" {
		t.Fatalf("result = %+v", ev)
	}
	rec.waitEnd(t)
	if len(rec.results) != 0 {
		t.Fatalf("kept recognizing after the first utterance")
	}
}

func TestLocalClassifiesDeviceErrors(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{fmt.Errorf("%w: busy", audio.ErrDeviceDenied), voice.ErrPermissionDenied},
		{fmt.Errorf("%w: none", audio.ErrNoDevice), voice.ErrUnavailable},
	}

	for _, c := range cases {
		l := &Local{src: &fakeSource{err: c.err}, tr: &fakeTranscriber{}}
		rec := newRecorded()
		if _, err := l.Start(context.Background(), continuous(), rec.callbacks()); err != nil {
			t.Fatalf("start: %v", err)
		}

		select {
		case err := <-rec.errs:
			if !errors.Is(err, c.want) {
				t.Fatalf("error = %v, want %v", err, c.want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no error for %v", c.err)
		}
		rec.waitEnd(t)
	}
}

func TestLocalWithoutModelIsUnavailable(t *testing.T) {
	l := NewLocal(&fakeSource{}, nil, DefaultOptions())
	if _, err := l.Start(context.Background(), continuous(), voice.Callbacks{}); !errors.Is(err, voice.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestCleanTranscript(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{" Hey DOM, read tasks.", "Hey DOM, read tasks."},
		{"[BLANK_AUDIO]", ""},
		{" (wind blowing) add milk", "add milk"},
		{"*music* ", ""},
	}

	for _, c := range cases {
		if got := CleanTranscript(c.in); got != c.want {
			t.Errorf("CleanTranscript(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

type fakeRecognizeClient struct {
	speechpb.Speech_StreamingRecognizeClient

	mu        sync.Mutex
	sent      []*speechpb.StreamingRecognizeRequest
	responses chan *speechpb.StreamingRecognizeResponse
	recvErr   error
}

func (f *fakeRecognizeClient) Send(req *speechpb.StreamingRecognizeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeRecognizeClient) CloseSend() error { return nil }

func (f *fakeRecognizeClient) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	resp, ok := <-f.responses
	if !ok {
		if f.recvErr != nil {
			return nil, f.recvErr
		}
		return nil, io.EOF
	}
	return resp, nil
}

func response(text string, final bool) *speechpb.StreamingRecognizeResponse {
	return &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{{
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text}},
			IsFinal:      final,
		}},
	}
}

func TestGoogleStream(t *testing.T) {
	client := &fakeRecognizeClient{responses: make(chan *speechpb.StreamingRecognizeResponse, 4)}
	g := &Google{
		src:  &fakeSource{utterances: [][]float32{{0.5, -0.5}}},
		open: func(context.Context) (speechpb.Speech_StreamingRecognizeClient, error) { return client, nil },
	}

	rec := newRecorded()
	if _, err := g.Start(context.Background(), continuous(), rec.callbacks()); err != nil {
		t.Fatalf("start: %v", err)
	}

	client.responses <- response(" hey dom ", true)
	client.responses <- response("interim", false)
	close(client.responses)

	if ev := rec.nextResult(t); ev.Transcript != "hey dom" || !ev.IsFinal {
		t.Fatalf("first = %+v", ev)
	}
	if ev := rec.nextResult(t); ev.IsFinal {
		t.Fatalf("second should be interim: %+v", ev)
	}
	rec.waitEnd(t)

	client.mu.Lock()
	defer client.mu.Unlock()
	cfg := client.sent[0].GetStreamingConfig()
	if cfg == nil || cfg.GetConfig().GetLanguageCode() != "en-US" || cfg.GetSingleUtterance() {
		t.Fatalf("config = %+v", cfg)
	}
	if cfg.GetConfig().GetSampleRateHertz() != audio.SampleRate {
		t.Fatalf("sample rate = %d", cfg.GetConfig().GetSampleRateHertz())
	}
}

func TestGoogleAuthFailureIsUnavailable(t *testing.T) {
	g := &Google{
		src: &fakeSource{},
		open: func(context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
			return nil, status.Error(codes.Unauthenticated, "no credentials")
		},
	}

	if _, err := g.Start(context.Background(), continuous(), voice.Callbacks{}); !errors.Is(err, voice.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestGoogleTransientErrorEnds(t *testing.T) {
	client := &fakeRecognizeClient{
		responses: make(chan *speechpb.StreamingRecognizeResponse),
		recvErr:   status.Error(codes.OutOfRange, "stream too long"),
	}
	g := &Google{
		src:  &fakeSource{},
		open: func(context.Context) (speechpb.Speech_StreamingRecognizeClient, error) { return client, nil },
	}

	rec := newRecorded()
	if _, err := g.Start(context.Background(), continuous(), rec.callbacks()); err != nil {
		t.Fatalf("start: %v", err)
	}
	close(client.responses)

	select {
	case err := <-rec.errs:
		if errors.Is(err, voice.ErrUnavailable) || errors.Is(err, voice.ErrPermissionDenied) {
			t.Fatalf("transient error classified as fatal: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no error")
	}
	rec.waitEnd(t)
}
