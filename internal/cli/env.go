package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/darshan-rambhia/hublens/internal/config"
	"github.com/darshan-rambhia/hublens/internal/credential"
	"github.com/darshan-rambhia/hublens/internal/instance"
	"github.com/darshan-rambhia/hublens/internal/pins"
	"github.com/darshan-rambhia/hublens/internal/store"
)

// env is the persistent state every command works against.
type env struct {
	cfg      *config.Config
	store    *store.Store
	creds    credential.Store
	pins     *pins.Manager
	registry *instance.Registry
}

// openEnv loads configuration, configures logging and opens the database.
func openEnv(configPath string, logOut io.Writer) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigFileNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("loading config (%s): %w", configPath, err)
	}
	slog.SetDefault(slog.New(newLogHandler(cfg.LogLevel, cfg.LogFormat, logOut)))

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	pm, err := pins.New(st)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("loading pins: %w", err)
	}
	creds := credential.Fallback{
		Primary:   credential.NewSealedStore(st, cfg.KeyPath),
		Secondary: credential.FileStore{Dir: cfg.SharedDir},
	}
	return &env{
		cfg:      cfg,
		store:    st,
		creds:    creds,
		pins:     pm,
		registry: instance.New(st, creds, pm),
	}, nil
}

func (e *env) Close() error { return e.store.Close() }

// newLogHandler builds the slog handler for the configured level and
// format.
func newLogHandler(level, format string, w io.Writer) slog.Handler {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
