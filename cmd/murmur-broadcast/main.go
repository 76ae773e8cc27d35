// Command murmur-broadcast runs one node of the broadcast workload.
//
// Usage:
//
//	murmur-broadcast [-config FILE]
//
// Protocol envelopes are read from stdin and written to stdout,
// one JSON object per line.
// Logs go to stderr, or to the configured log file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gordian-engine/murmur"
	"github.com/gordian-engine/murmur/mconfig"
	"github.com/gordian-engine/murmur/mmetrics"
	"github.com/gordian-engine/murmur/mnet"
	"github.com/gordian-engine/murmur/mstore"
	"github.com/gordian-engine/murmur/mstore/mstoreleveldb"
	"github.com/gordian-engine/murmur/mtopo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "murmur-broadcast: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("murmur-broadcast", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to TOML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := mconfig.Load(*configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := mmetrics.New(reg)

	store := mstore.New(mstore.Config{DenseLimit: cfg.DenseValueLimit})
	topo := mtopo.NewTable()

	if cfg.DataDir != "" {
		stopJournal, err := openJournal(ctx, log, cfg.DataDir, store, metrics)
		if err != nil {
			return err
		}
		// Runs on return, after the runtime is waited on below,
		// so values recorded by in-flight handlers are persisted too.
		defer stopJournal()
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           newDiagnosticsRouter(reg, store, topo),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Metrics server stopped", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("Serving metrics", "addr", cfg.MetricsAddr)
	}

	node := murmur.NewNode(log.With("sys", "node"), murmur.NodeConfig{
		Store:    store,
		Topology: topo,

		FanoutConcurrency:   cfg.FanoutConcurrency,
		StopFanoutOnFailure: cfg.StopFanoutOnFailure,

		Metrics: metrics,
	})

	rt := mnet.NewRuntime(log.With("sys", "runtime"), mnet.Config{
		Transport: mnet.NewStdioTransport(stdout),
		Handler:   node,
	})

	readErr := mnet.ReadEnvelopes(ctx, log, stdin, rt)

	// Let in-flight handlers finish writing their replies.
	rt.Wait()

	if readErr != nil && !errors.Is(readErr, context.Canceled) {
		return readErr
	}
	return nil
}

func newLogger(cfg mconfig.Config, stderr io.Writer) (*slog.Logger, func(), error) {
	lvl, err := cfg.Level()
	if err != nil {
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}

	if cfg.LogFile == "" {
		return slog.New(slog.NewTextHandler(stderr, opts)), func() {}, nil
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    100, // Megabytes.
		MaxBackups: 3,
	}
	return slog.New(slog.NewTextHandler(lj, opts)), func() { _ = lj.Close() }, nil
}

// openJournal restores store from the journal in dir
// and starts persisting newly learned values.
//
// The follower is not stopped by ctx.
// Canceling ctx (on a signal) only stops reading input,
// and handlers still running at that point may record more values.
// The returned stop function persists everything recorded so far,
// then closes the journal.
func openJournal(
	ctx context.Context,
	log *slog.Logger,
	dir string,
	store *mstore.Store,
	metrics *mmetrics.Metrics,
) (stop func(), err error) {
	jlog := log.With("sys", "journal")
	j, err := mstoreleveldb.Open(jlog, dir, mstoreleveldb.Config{
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}

	vals, err := j.Load()
	if err != nil {
		_ = j.Close()
		return nil, err
	}

	store.Restore(vals)
	metrics.SetStoreValues(store.Len())
	log.Info("Restored values from journal", "n_values", len(vals), "dir", dir)

	followCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	// Follow from the current stream head,
	// so the restored values are not appended again.
	j.Follow(followCtx, store.Learned())

	return func() {
		cancel()
		j.Wait()
		if err := j.Close(); err != nil {
			jlog.Warn("Failed to close journal", "err", err)
		}
	}, nil
}
