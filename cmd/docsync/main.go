package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/devrev/pairdb/docsync/internal/app"
	"github.com/devrev/pairdb/docsync/internal/config"
	"github.com/devrev/pairdb/docsync/internal/engine"
	"github.com/devrev/pairdb/docsync/internal/logging"
	"github.com/devrev/pairdb/docsync/internal/metrics"
	"github.com/docopt/docopt-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const DocsyncVersion = "0.1.0"

const closeTimeout = 10 * time.Second

var Err = log.New(os.Stderr, "", 0)

func main() {
	usage := `Docsync client.

Reads and writes collections through the local cache and keeps them in sync
with the configured remote.

Usage:
    docsync get <key> [--config=<path>] [--yaml]
    docsync put <key> <json> [--config=<path>]
    docsync watch <key> [--config=<path>] [--yaml]
    docsync status [--config=<path>] [--yaml]
    docsync evict <key> [--config=<path>]

Options:
    -h --help          Show this screen.
    --version          Show version.
    --config=<path>    YAML configuration file. Defaults to $CONFIG_PATH.
    --yaml             Print documents as YAML instead of JSON.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], DocsyncVersion)
	if err != nil {
		panic(err)
	}

	var run func(context.Context, *engine.Engine, docopt.Opts) error
	if get_, _ := opts.Bool("get"); get_ {
		run = get
	} else if put_, _ := opts.Bool("put"); put_ {
		run = put
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		run = watch
	} else if status_, _ := opts.Bool("status"); status_ {
		run = status
	} else if evict_, _ := opts.Bool("evict"); evict_ {
		run = evict
	}

	if err := execute(opts, run); err != nil {
		Err.Printf("docsync: %v", err)
		os.Exit(1)
	}
}

func execute(opts docopt.Opts, run func(context.Context, *engine.Engine, docopt.Opts) error) error {
	configPath, _ := opts.String("--config")
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	e, backend, err := app.NewEngine(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	runErr := run(ctx, e, opts)

	if err := e.Close(closeTimeout); err != nil {
		logger.Warn("Pending upserts not flushed", zap.Error(err))
	}
	return runErr
}

// get prints the value of a key after the initial pull settles
func get(ctx context.Context, e *engine.Engine, opts docopt.Opts) error {
	key, _ := opts.String("<key>")
	asYAML, _ := opts.Bool("--yaml")

	b := e.Bind(key, nil, nil)
	defer b.Close()

	select {
	case <-b.PullDone():
	case <-ctx.Done():
		return ctx.Err()
	}

	value := b.Value()
	if value == nil {
		return fmt.Errorf("%s: not found", key)
	}
	return render(os.Stdout, value, asYAML)
}

// put replaces the value of a key and waits for its upsert
func put(ctx context.Context, e *engine.Engine, opts docopt.Opts) error {
	key, _ := opts.String("<key>")
	doc, _ := opts.String("<json>")

	if !json.Valid([]byte(doc)) {
		return fmt.Errorf("%s: value is not valid JSON", key)
	}

	e.Write(key, json.RawMessage(doc))

	flushCtx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	if err := e.Flush(flushCtx); err != nil {
		return fmt.Errorf("failed to flush %s: %w", key, err)
	}

	if st := e.Status(); !st.Healthy() {
		return fmt.Errorf("%s written locally, remote sync failed: %s", key, st.LastError)
	}
	return nil
}

// watch prints the value of a key and every change to it until interrupted
func watch(ctx context.Context, e *engine.Engine, opts docopt.Opts) error {
	key, _ := opts.String("<key>")
	asYAML, _ := opts.Bool("--yaml")

	latest := newLatestValue()
	b := e.Bind(key, nil, latest.Set)
	defer b.Close()

	if value := b.Value(); value != nil {
		if err := render(os.Stdout, value, asYAML); err != nil {
			return err
		}
	}

	for {
		value, err := latest.Next(ctx)
		if err != nil {
			return nil
		}
		if err := render(os.Stdout, value, asYAML); err != nil {
			return err
		}
	}
}

// latestValue holds the most recent change not yet printed. A slow printer
// skips intermediate values but always sees the last one.
type latestValue struct {
	mu     sync.Mutex
	value  json.RawMessage
	notify chan struct{}
}

func newLatestValue() *latestValue {
	return &latestValue{notify: make(chan struct{}, 1)}
}

func (l *latestValue) Set(value json.RawMessage) {
	l.mu.Lock()
	l.value = value
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a value newer than the last one returned is set
func (l *latestValue) Next(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-l.notify:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, nil
}

type statusReport struct {
	ClientID      string      `json:"client_id"`
	TenantID      string      `json:"tenant_id"`
	Healthy       bool        `json:"healthy"`
	PendingWrites int         `json:"pending_writes"`
	DroppedWrites uint64      `json:"dropped_writes"`
	LastError     string      `json:"last_error,omitempty"`
	LastErrorAt   time.Time   `json:"last_error_at,omitempty"`
	LastSyncedAt  time.Time   `json:"last_synced_at,omitempty"`
	CachedKeys    []string    `json:"cached_keys"`
	Upserts       *poolReport `json:"upserts,omitempty"`
}

type poolReport struct {
	Workers     int     `json:"workers"`
	Active      int     `json:"active"`
	Queued      int     `json:"queued"`
	Completed   uint64  `json:"completed"`
	Failed      uint64  `json:"failed"`
	Rejected    uint64  `json:"rejected"`
	SuccessRate float64 `json:"success_rate"`
}

// status prints the client identity and synchronization state
func status(_ context.Context, e *engine.Engine, opts docopt.Opts) error {
	asYAML, _ := opts.Bool("--yaml")

	keys, err := e.CachedKeys()
	if err != nil {
		return err
	}

	st := e.Status()
	report := statusReport{
		ClientID:      e.ClientID(),
		TenantID:      e.TenantID(),
		Healthy:       st.Healthy(),
		PendingWrites: st.PendingWrites,
		DroppedWrites: st.DroppedWrites,
		LastError:     st.LastError,
		LastErrorAt:   st.LastErrorAt,
		LastSyncedAt:  st.LastSyncedAt,
		CachedKeys:    keys,
	}
	if stats, ok := e.UpsertStats(); ok {
		report.Upserts = &poolReport{
			Workers:     stats.MaxWorkers,
			Active:      stats.ActiveWorkers,
			Queued:      stats.QueuedTasks,
			Completed:   stats.CompletedTasks,
			Failed:      stats.FailedTasks,
			Rejected:    stats.RejectedTasks,
			SuccessRate: stats.SuccessRate(),
		}
	}

	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return render(os.Stdout, data, asYAML)
}

// evict drops the cached copy of a key without touching the remote
func evict(_ context.Context, e *engine.Engine, opts docopt.Opts) error {
	key, _ := opts.String("<key>")
	return e.Evict(key)
}

// render writes a JSON document indented, or converted to YAML
func render(w io.Writer, value json.RawMessage, asYAML bool) error {
	if asYAML {
		var doc any
		if err := json.Unmarshal(value, &doc); err != nil {
			return fmt.Errorf("failed to decode document: %w", err)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	}

	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
