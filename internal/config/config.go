package config

import (
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/grove/internal/engine"
	"github.com/roach88/grove/internal/store"
)

//go:embed schema.cue
var schemaSource string

// Config holds runtime tunables.
type Config struct {
	MaxEvaluations     int               `json:"max_evaluations"`
	TrackBehaviors     bool              `json:"track_behaviors"`
	ConsistencyChecks  bool              `json:"consistency_checks"`
	NotificationBuffer int               `json:"notification_buffer"`
	Archive            *ArchiveConfig    `json:"archive,omitempty"`
	Log                LogConfig         `json:"log"`
	Env                map[string]string `json:"env,omitempty"`
}

// ArchiveConfig locates the snapshot archive.
type ArchiveConfig struct {
	Path string `json:"path"`
	Keep int    `json:"keep"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `json:"level"`
}

// Error is a configuration error with source position.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the configuration of an empty file.
func Default() Config {
	cfg, err := Parse("default.cue", nil)
	if err != nil {
		panic(fmt.Sprintf("embedded config schema: %v", err))
	}
	return cfg
}

// Load reads and validates a config file.
func Load(path string) (Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, src)
}

// Parse validates src against the schema and decodes it. filename is used
// in error positions.
func Parse(filename string, src []byte) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}
	user := ctx.CompileBytes(src, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return Config{}, formatCUEError(err)
	}
	return cfg, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	field := "cue"
	if path := first.Path(); len(path) > 0 {
		field = path[len(path)-1]
	}
	msg, args := first.Msg()
	e := &Error{Field: field, Message: fmt.Sprintf(msg, args...)}
	if positions := errors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}

// Level returns the slog level for Log.Level.
func (c Config) Level() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger builds a text logger writing to w at the configured level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.Level()}))
}

// OpenArchive opens the configured archive. Returns nil when archiving is
// disabled.
func (c Config) OpenArchive() (*store.Archive, error) {
	if c.Archive == nil {
		return nil, nil
	}
	return store.OpenArchive(c.Archive.Path)
}

// EngineOptions converts the config into runtime options. archive may be
// nil.
func (c Config) EngineOptions(logger *slog.Logger, archive *store.Archive) []engine.Option {
	opts := []engine.Option{
		engine.WithMaxEvaluations(c.MaxEvaluations),
		engine.WithTracking(c.TrackBehaviors),
		engine.WithConsistencyChecks(c.ConsistencyChecks),
		engine.WithNotificationBuffer(c.NotificationBuffer),
	}
	if logger != nil {
		opts = append(opts, engine.WithLogger(logger))
	}
	if archive != nil {
		keep := 0
		if c.Archive != nil {
			keep = c.Archive.Keep
		}
		opts = append(opts, engine.WithArchive(archive, keep))
	}
	if len(c.Env) > 0 {
		env := make(map[string]any, len(c.Env))
		for k, v := range c.Env {
			env[k] = v
		}
		opts = append(opts, engine.WithEnv(env))
	}
	return opts
}
