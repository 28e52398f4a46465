package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/harness"
	"github.com/roach88/factgraph/internal/metrics"
	"github.com/roach88/factgraph/internal/observable"
	"github.com/roach88/factgraph/internal/storage"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Root     string
	Query    string
	Spec     string
	Name     string
	Dir      string
	Debounce time.Duration
}

// WatchEvent is one line of watch output.
type WatchEvent struct {
	Event string   `json:"event"` // "added" or "removed"
	Path  []string `json:"path"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Subscribe to a query and print result changes",
		Long: `Subscribe to a query or specification from a root fact and print one
line per added or removed result until interrupted.

With --dir, fact files (.yaml, .yml, .json) already in the directory are
saved at startup and files written later are saved as they change. When
metrics.addr is configured, Prometheus metrics are served on it.

Examples:
  factgraph watch --root List:3f2a... --query 'S.list F.type="Task"'
  factgraph watch --root User:9c1e... --spec chores.cue --name currentNames --dir ./inbox`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Root, "root", "", "root fact as Type:hash (required)")
	cmd.Flags().StringVar(&opts.Query, "query", "", "query string or query name in --spec")
	cmd.Flags().StringVar(&opts.Spec, "spec", "", "CUE file or directory")
	cmd.Flags().StringVar(&opts.Name, "name", "", "specification name in --spec")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "directory of fact files to ingest")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 100*time.Millisecond, "quiet period before a changed file is ingested")
	_ = cmd.MarkFlagRequired("root")

	return cmd
}

func runWatch(ctx context.Context, opts *WatchOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	roots, err := parseReferences([]string{opts.Root})
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "invalid --root", err)
	}

	s, err := opts.openSession(ctx, f)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "open store", err)
	}
	defer s.Close()

	obs, err := opts.observable(s.source, roots[0])
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "watch", err)
	}

	out := &eventWriter{w: f.Writer, json: f.Format == "json"}
	sub, err := obs.Subscribe(ctx,
		func(_ context.Context, p storage.FactPath) error { return out.write("added", p) },
		func(_ context.Context, p storage.FactPath) error { return out.write("removed", p) },
	)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "subscribe", err)
	}
	defer sub.Dispose()
	s.logger.Info("watching", "root", roots[0].String(), "subscription", sub.ID())

	g, ctx := errgroup.WithContext(ctx)
	if opts.Dir != "" {
		in := &ingester{source: s.source, dir: opts.Dir, debounce: opts.Debounce, logger: s.logger}
		if err := in.initial(ctx); err != nil {
			return f.Fail(ExitCommandError, ErrCodeInput, "ingest", err)
		}
		g.Go(func() error { return in.watch(ctx) })
	}
	if addr := s.cfg.Metrics.Addr; addr != "" {
		g.Go(func() error { return serveMetrics(ctx, addr, s) })
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "watch", err)
	}
	return nil
}

// observable picks the specification named by --name, or the query given
// by --query.
func (o *WatchOptions) observable(src *observable.Source, root fact.Reference) (*observable.Observable, error) {
	if o.Name != "" {
		if o.Spec == "" {
			return nil, errors.New("--name requires --spec")
		}
		doc, err := LoadDocument(o.Spec)
		if err != nil {
			return nil, err
		}
		spec, err := doc.Specification(o.Name)
		if err != nil {
			return nil, err
		}
		return src.FromSpecification(root, spec)
	}
	if o.Query == "" {
		return nil, errNoQuery
	}
	q, err := resolveQuery(o.Spec, o.Query)
	if err != nil {
		return nil, err
	}
	return src.From(root, q)
}

// eventWriter serializes subscription output.
type eventWriter struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

func (e *eventWriter) write(event string, p storage.FactPath) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	path := pathStrings(p)
	if e.json {
		data, err := json.Marshal(WatchEvent{Event: event, Path: path})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(e.w, string(data))
		return err
	}
	sign := "+"
	if event == "removed" {
		sign = "-"
	}
	_, err := fmt.Fprintf(e.w, "%s %s\n", sign, strings.Join(path, " "))
	return err
}

// ingester saves fact files from a directory.
type ingester struct {
	source   *observable.Source
	dir      string
	debounce time.Duration
	logger   *slog.Logger
}

func isFactFile(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// initial saves the files already present, in name order.
func (in *ingester) initial(ctx context.Context) error {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && isFactFile(e.Name()) {
			files = append(files, filepath.Join(in.dir, e.Name()))
		}
	}
	sort.Strings(files)
	for _, file := range files {
		if err := in.ingest(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

func (in *ingester) ingest(ctx context.Context, file string) error {
	envs, err := harness.LoadFactFile(file)
	if err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	saved, err := in.source.Save(ctx, envs)
	if err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	in.logger.Info("ingested", "file", filepath.Base(file), "facts", len(envs), "new", len(saved))
	return nil
}

// watch ingests files as they are written. A file is ingested once no
// event has touched it for the debounce period. Bad files are logged and
// skipped.
func (in *ingester) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(in.dir); err != nil {
		return err
	}

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(in.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isFactFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				pending[event.Name] = time.Now()
			}

		case <-ticker.C:
			now := time.Now()
			for file, t := range pending {
				if now.Sub(t) < in.debounce {
					continue
				}
				delete(pending, file)
				if err := in.ingest(ctx, file); err != nil {
					in.logger.Warn("ingest failed", "error", err)
				}
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			in.logger.Warn("watch error", "error", err)
		}
	}
}

func serveMetrics(ctx context.Context, addr string, s *session) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(s.registry))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
