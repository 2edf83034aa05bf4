package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"nebula/internal/audio"
	"nebula/internal/config"
	"nebula/internal/feed"
	"nebula/internal/ipc"
	"nebula/internal/nlu"
	"nebula/internal/notify"
	"nebula/internal/proxy"
	"nebula/internal/store"
	"nebula/internal/tts"
	"nebula/internal/tts/espeak"
	"nebula/internal/voice"
	"nebula/pkg/stt"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: cfg.Level(),
	})))

	log.Info("Booting up")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Error("Daemon failed", "err", err)
		os.Exit(1)
	}

	log.Info("Shut down")
}

func run(ctx context.Context, cfg config.Config) error {
	tasks, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer tasks.Close()

	log.Debug("Loaded task store", "path", tasks.Path(), "tasks", len(tasks.Snapshot()))

	alerts := notify.NewAlerts(notify.NewDesktop("nebula"))
	defer alerts.Close()
	alerts.Restore(tasks.Snapshot())

	if err := audio.Init(); err != nil {
		log.Warn("Audio unavailable", "err", err)
	} else {
		defer audio.Terminate()
	}

	ducker := audio.NewDucker(nil, audio.DefaultDuckOptions())
	player := audio.NewPlayer(audio.WithDucker(ducker))

	rec, closeRec, err := recognizer(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRec()

	synth, closeSynth, err := synthesizer(ctx, cfg, ducker, player)
	if err != nil {
		return err
	}
	defer closeSynth()

	log.Debug("Loaded speech backends", "stt", cfg.STT, "tts", cfg.TTS)

	disp := nlu.NewDispatcher(tasks, alerts)
	interp := nlu.NewInterpreter(tasks)

	ctl := voice.NewController(rec, synth, interp, disp,
		voice.WithConfig(cfg.Assistant),
		voice.WithChime(func(context.Context) error { return notify.Beep(cfg.Chime) }),
	)

	hub := feed.New(tasks, disp, ctl)
	tasks.Subscribe(hub.PublishTasks)
	hub.PublishTasks(tasks.Snapshot())

	ctl.OnStatus(hub.PublishStatus)

	var wg sync.WaitGroup
	spawn := func(name string, f func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f(); err != nil {
				log.Error("Component stopped", "component", name, "err", err)
			}
		}()
	}

	spawn("watcher", func() error { return tasks.Watch(ctx, 250*time.Millisecond) })
	spawn("control", func() error {
		return ipc.Serve(ctx, cfg.Socket, &ipc.Commands{Voice: ctl, Tasks: tasks, Adder: disp})
	})
	if cfg.FeedAddr != "" {
		spawn("feed", func() error { return hub.ListenAndServe(ctx, cfg.FeedAddr) })
	}
	spawn("voice", func() error {
		ctl.Run(ctx)
		return nil
	})

	if cfg.Listen {
		ctl.Enable()
	}

	log.Info("Boot up - successful")

	<-ctx.Done()
	log.Info("Shutting down")
	wg.Wait()
	return nil
}

func recognizer(ctx context.Context, cfg config.Config) (voice.Recognizer, func(), error) {
	src := audio.NewRecorder(audio.DefaultEndpointing())

	switch cfg.STT {
	case config.STTGoogle:
		g, err := stt.NewGoogle(ctx, src, cfg.GoogleCredentials)
		if err != nil {
			return nil, nil, err
		}
		return g, closer("google speech", g), nil

	case config.STTWhisper:
		tr, err := stt.NewTranscriber(cfg.WhisperModel)
		if err != nil {
			// the assistant still runs, enabling reports recognition as unavailable
			log.Error("Failed to init whisper", "model", cfg.WhisperModel, "err", err)
			return nil, func() {}, nil
		}
		return stt.NewLocal(src, tr, stt.DefaultOptions()), closer("whisper", tr), nil

	default:
		return nil, func() {}, nil
	}
}

func synthesizer(ctx context.Context, cfg config.Config, ducker *audio.Ducker, player *audio.Player) (voice.Synthesizer, func(), error) {
	switch cfg.TTS {
	case config.TTSOpenAI:
		httpClient, err := proxy.NewClient(cfg.Proxy)
		if err != nil {
			return nil, nil, err
		}
		client := openai.NewClient(
			option.WithAPIKey(cfg.OpenAIKey),
			option.WithHTTPClient(httpClient),
		)
		return tts.NewOpenAI(client, player), func() {}, nil

	case config.TTSGoogle:
		g, err := tts.NewGoogle(ctx, cfg.GoogleCredentials, cfg.Assistant.Language, player)
		if err != nil {
			return nil, nil, err
		}
		return g, closer("google tts", g), nil

	case config.TTSEspeak:
		e, err := espeak.New(ducker)
		if err != nil {
			log.Error("Failed to init espeak, replies will only be logged", "err", err)
			return nil, func() {}, nil
		}
		return e, func() {}, nil

	default:
		return nil, func() {}, nil
	}
}

func closer(name string, c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Warn("Close failed", "component", name, "err", err)
		}
	}
}
