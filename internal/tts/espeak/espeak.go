// Package espeak speaks through libespeak-ng. It needs cgo and the
// espeak-ng headers, so it lives apart from the other speech backends.
package espeak

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <string.h>
#include <espeak-ng/speak_lib.h>

static int
nebula_init(void)
{
	return espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0);
}

static int
nebula_say(const char *text, const char *voice)
{
	if (!text)
	{ return -1; }

	if (voice && voice[0])
	{
		espeak_SetVoiceByName(voice);
	}
	else
	{
		espeak_VOICE spec;
		memset(&spec, 0, sizeof(spec));
		spec.languages = "en-us";
		espeak_SetVoiceByProperties(&spec);
	}

	espeak_Synth(text, strlen(text) + 1, 0, POS_CHARACTER, 0, espeakCHARS_AUTO, NULL, NULL);
	return espeak_Synchronize();
}

static int
nebula_voice_count(void)
{
	const espeak_VOICE **voices = espeak_ListVoices(NULL);
	int n = 0;
	while (voices && voices[n])
	{ n++; }
	return n;
}

static const char *
nebula_voice_name(int i)
{
	return espeak_ListVoices(NULL)[i]->name;
}
*/
import "C"

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"
	"unsafe"

	"nebula/internal/audio"
)

var (
	espeakOnce sync.Once
	espeakErr  error
	// espeak-ng keeps global state
	espeakMu sync.Mutex
)

func espeakInit() error {
	espeakOnce.Do(func() {
		if rc := C.nebula_init(); rc < 0 {
			espeakErr = fmt.Errorf("espeak_Initialize failed: %d", int(rc))
		}
	})
	return espeakErr
}

// Espeak plays on its own output, not through audio.Player.
type Espeak struct {
	ducker *audio.Ducker
}

func New(ducker *audio.Ducker) (*Espeak, error) {
	if err := espeakInit(); err != nil {
		return nil, err
	}
	return &Espeak{ducker: ducker}, nil
}

func (e *Espeak) Voices(context.Context) []string {
	espeakMu.Lock()
	defer espeakMu.Unlock()

	n := int(C.nebula_voice_count())
	voices := make([]string, 0, n)
	for i := 0; i < n; i++ {
		voices = append(voices, C.GoString(C.nebula_voice_name(C.int(i))))
	}
	return voices
}

func (e *Espeak) Speak(ctx context.Context, text, voice string) error {
	if text == "" {
		return nil
	}

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	cvoice := C.CString(voice)
	defer C.free(unsafe.Pointer(cvoice))

	if e.ducker != nil {
		if err := e.ducker.Duck(ctx); err != nil {
			log.Warn("Failed to duck other streams", "err", err)
		}
		defer func() {
			if err := e.ducker.Restore(context.WithoutCancel(ctx)); err != nil {
				log.Warn("Failed to restore other streams", "err", err)
			}
		}()
	}

	espeakMu.Lock()
	defer espeakMu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			C.espeak_Cancel()
		case <-done:
		}
	}()

	if rc := C.nebula_say(ctext, cvoice); rc != 0 {
		return fmt.Errorf("espeak synth failed: %d", int(rc))
	}
	return ctx.Err()
}
