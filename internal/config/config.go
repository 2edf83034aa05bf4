// Package config collects the daemon settings from flags, an optional .env
// file and the environment.
package config

import (
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"nebula/internal/ipc"
	"nebula/internal/store"
	"nebula/internal/voice"
)

const (
	STTWhisper = "whisper"
	STTGoogle  = "google"
	STTNone    = "none"

	TTSEspeak = "espeak"
	TTSOpenAI = "openai"
	TTSGoogle = "google"
	TTSNone   = "none"
)

var ErrInvalid = errors.New("invalid config")

var LogLevels = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

type Config struct {
	EnvFile  string
	LogLevel string
	Proxy    string

	DBPath   string
	Socket   string
	FeedAddr string
	Chime    string

	STT          string
	WhisperModel string
	TTS          string
	Voice        string

	OpenAIKey         string
	GoogleCredentials string

	// Listen enables the microphone on startup.
	Listen bool

	Assistant voice.Config
}

func Defaults() Config {
	return Config{
		EnvFile:      ".env",
		LogLevel:     "info",
		DBPath:       store.DefaultPath(),
		Socket:       ipc.DefaultSocketPath(),
		FeedAddr:     "127.0.0.1:8093",
		STT:          STTWhisper,
		WhisperModel: "third_party/whisper.cpp/models/ggml-base.en.bin",
		TTS:          TTSEspeak,
		Listen:       true,
		Assistant:    voice.DefaultConfig(),
	}
}

// Load parses args (without the program name), then fills what the flags
// left unset from the env file and the environment.
func Load(args []string) (Config, error) {
	cfg := Defaults()
	timing := &cfg.Assistant

	fs := cli.NewFlagSet("nebula-daemon", cli.ContinueOnError)
	fs.StringVarP(&cfg.EnvFile, "env", "e", cfg.EnvFile, "Env file path")
	fs.StringVarP(&cfg.LogLevel, "log", "l", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVarP(&cfg.Proxy, "proxy", "p", "", "Socks proxy address for cloud backends")
	fs.StringVar(&cfg.DBPath, "db", "", "Task database path")
	fs.StringVarP(&cfg.Socket, "socket", "s", cfg.Socket, "Control socket path")
	fs.StringVar(&cfg.FeedAddr, "feed", cfg.FeedAddr, "UI feed listen address, empty to disable")
	fs.StringVar(&cfg.Chime, "chime", "", "mp3 played when a conversation is activated without the wake phrase")
	fs.StringVar(&cfg.STT, "stt", cfg.STT, "Speech recognition backend (whisper, google, none)")
	fs.StringVarP(&cfg.WhisperModel, "model", "m", "", "Whisper model path")
	fs.StringVar(&cfg.TTS, "tts", cfg.TTS, "Speech synthesis backend (espeak, openai, google, none)")
	fs.StringVar(&cfg.Voice, "voice", "", "Preferred voice name")
	fs.BoolVar(&cfg.Listen, "listen", cfg.Listen, "Start listening on boot")
	fs.DurationVar(&timing.ConversationWindow, "conversation", timing.ConversationWindow, "Conversation window after each command")
	fs.DurationVar(&timing.ActivateWindow, "activate-window", timing.ActivateWindow, "Conversation window opened by activate")
	fs.DurationVar(&timing.Grace, "grace", timing.Grace, "Pause after speech before listening again")
	fs.DurationVar(&timing.RestartDelay, "restart", timing.RestartDelay, "Delay before reopening an ended stream")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := godotenv.Load(cfg.EnvFile); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load %s: %w", cfg.EnvFile, err)
	}

	cfg.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	cfg.GoogleCredentials = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	if cfg.DBPath == "" {
		cfg.DBPath = envOr("NEBULA_DB", store.DefaultPath())
	}
	if cfg.WhisperModel == "" {
		cfg.WhisperModel = envOr("NEBULA_WHISPER_MODEL", Defaults().WhisperModel)
	}
	if cfg.Voice != "" {
		timing.PreferredVoices = append([]string{cfg.Voice}, timing.PreferredVoices...)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, ok := LogLevels[strings.ToLower(c.LogLevel)]; !ok {
		return fmt.Errorf("%w: log level %q", ErrInvalid, c.LogLevel)
	}

	switch c.STT {
	case STTWhisper, STTNone:
	case STTGoogle:
		if c.GoogleCredentials == "" {
			return fmt.Errorf("%w: stt google needs GOOGLE_APPLICATION_CREDENTIALS", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: stt backend %q", ErrInvalid, c.STT)
	}

	switch c.TTS {
	case TTSEspeak, TTSNone:
	case TTSOpenAI:
		if c.OpenAIKey == "" {
			return fmt.Errorf("%w: tts openai needs OPENAI_API_KEY", ErrInvalid)
		}
	case TTSGoogle:
		if c.GoogleCredentials == "" {
			return fmt.Errorf("%w: tts google needs GOOGLE_APPLICATION_CREDENTIALS", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: tts backend %q", ErrInvalid, c.TTS)
	}

	t := c.Assistant
	if t.ConversationWindow <= 0 || t.ActivateWindow <= 0 || t.RestartDelay <= 0 {
		return fmt.Errorf("%w: timings must be positive", ErrInvalid)
	}
	if t.Grace < voice.MinGrace {
		return fmt.Errorf("%w: grace %v below %v", ErrInvalid, t.Grace, voice.MinGrace)
	}
	return nil
}

// Level is the slog level for LogLevel.
func (c Config) Level() log.Level {
	return LogLevels[strings.ToLower(c.LogLevel)]
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
