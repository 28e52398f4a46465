package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/factgraph/internal/compiler"
	"github.com/roach88/factgraph/internal/config"
	"github.com/roach88/factgraph/internal/metrics"
	"github.com/roach88/factgraph/internal/observable"
	"github.com/roach88/factgraph/internal/storage/memory"
	"github.com/roach88/factgraph/internal/storage/sqlstore"
)

// LoadError represents an error that occurred while loading a document.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadValue builds the CUE value at path. A file is compiled on its own; a
// directory is loaded as one CUE package from all its .cue files.
func LoadValue(path string) (cue.Value, int, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("specification path not found: %s", path)}
	}
	if err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing %s: %v", path, err)}
	}

	ctx := cuecontext.New()
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
		}
		return ctx.CompileBytes(data, cue.Filename(path)), 1, nil
	}

	files, err := FindCUEFiles(path)
	if err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}
	}
	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}
	return ctx.BuildInstance(inst), len(files), nil
}

// LoadDocument loads and compiles the document at path.
func LoadDocument(path string) (*compiler.Document, error) {
	v, _, err := LoadValue(path)
	if err != nil {
		return nil, err
	}
	return compiler.CompileValue(v)
}

// FindCUEFiles returns the .cue files directly inside dir, sorted.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// session is an opened store with its notification source, logger and
// collectors.
type session struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	source   *observable.Source
}

// openSession resolves configuration and opens the configured store. Logs
// go to the formatter's diagnostic writer.
func (o *RootOptions) openSession(ctx context.Context, f *OutputFormatter) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Log.Logger(f.GetErrWriter())
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	store, err := openStore(ctx, cfg.Storage, logger, m)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	logger.Debug("store opened", "driver", cfg.Storage.Driver)

	return &session{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  m,
		source:   observable.NewSource(store, observable.WithLogger(logger), observable.WithMetrics(m)),
	}, nil
}

func openStore(ctx context.Context, sc config.StorageConfig, logger *slog.Logger, m *metrics.Metrics) (observable.Store, error) {
	switch sc.Driver {
	case config.DriverMemory:
		return memory.New(memory.WithLogger(logger), memory.WithMetrics(m)), nil
	case config.DriverSQLite, config.DriverPostgres:
		return sqlstore.Open(ctx, sc.Driver, sc.DSN,
			sqlstore.WithLogger(logger),
			sqlstore.WithMetrics(m),
			sqlstore.WithCacheSize(sc.CacheSize),
		)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", sc.Driver)
	}
}

func (s *session) Close() error {
	return s.source.Close()
}
