// Command pollwatchd runs a set of named adaptive polls declared in a JSON
// manifest, recording their tick history, exposing Prometheus metrics and a
// small HTTP control surface, and optionally participating in Redis-backed
// leader election: each poll's first invocation waits until this instance
// holds the lease, and an instance that later loses the lease keeps polling.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rmax-ai/pollwatch/pkg/cluster"
	"github.com/rmax-ai/pollwatch/pkg/poll"
	"github.com/rmax-ai/pollwatch/pkg/pollapi"
	"github.com/rmax-ai/pollwatch/pkg/pollmcp"
	"github.com/rmax-ai/pollwatch/pkg/pollmetrics"
	"github.com/rmax-ai/pollwatch/pkg/pollstore"
)

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "pollwatchd: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		slog.Error("pollwatchd exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config) error {
	slog.Info("system_started", "component", "pollwatchd")

	specs, err := loadManifest(cfg.ManifestPath)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	st, err := pollstore.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	slog.Info("store_initialized", "path", cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var election *cluster.ElectionManager
	var gate poll.GateFunc
	holderID := fmt.Sprintf("pollwatchd-%d", os.Getpid())

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		leaseStore := cluster.NewRedisLeaseStore(rdb)
		election = cluster.NewElectionManager(leaseStore, holderID, "pollwatchd-leader", cfg.LeaseTTL,
			func() { slog.Info("promoted to leader", "holder_id", holderID) },
			func() { slog.Info("demoted from leader", "holder_id", holderID) },
		)
		election.Start(ctx)
		defer election.Stop(context.Background())
		gate = election.Gate(cfg.LeaseTTL / 3)
	}

	polls := make(map[string]pollapi.PollHandle, len(specs))
	names := make([]string, 0, len(specs))
	var disposers []func()

	for _, spec := range specs {
		p, err := poll.New(poll.Options[string]{
			Name:     spec.Name,
			Interval: spec.Interval,
			Min:      spec.Min,
			Max:      spec.Max,
			Variance: spec.Variance,
			Gate:     gate,
			Context:  ctx,
			Factory:  httpHealthCheckFactory(spec.URL),
		})
		if err != nil {
			return fmt.Errorf("failed to start poll %q: %w", spec.Name, err)
		}

		go st.Watch(ctx, spec.Name, p)
		go pollmetrics.Watch(ctx, spec.Name, p)

		polls[spec.Name] = p
		names = append(names, spec.Name)
		disposers = append(disposers, p.Dispose)
		slog.Info("poll started", "name", spec.Name, "url", spec.URL, "interval", spec.Interval)
	}

	apiServer := pollapi.NewServer(polls, historyAdapter{st}, cfg.Addr)
	go func() {
		if err := apiServer.Start(); err != nil {
			slog.Error("api server failed", "error", err)
		}
	}()
	slog.Info("api_listening", "addr", cfg.Addr)

	if cfg.MCP {
		mcpServer := pollmcp.NewServer("http://"+cfg.Addr, names)
		go func() {
			if err := mcpServer.Serve(); err != nil {
				slog.Error("mcp server failed", "error", err)
			}
		}()
		slog.Info("mcp_serving_stdio")
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	slog.Info("shutdown_initiated", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		slog.Error("failed to stop api server cleanly", "error", err)
	}

	for _, dispose := range disposers {
		dispose()
	}
	cancel()

	slog.Info("shutdown_complete")
	return nil
}

// historyAdapter narrows *pollstore.Store's richer Record type down to the
// pollapi.HistoryRecord shape, keeping pollapi decoupled from pollstore's
// schema.
type historyAdapter struct {
	store *pollstore.Store
}

func (h historyAdapter) Recent(ctx context.Context, pollName string, limit int) ([]pollapi.HistoryRecord, error) {
	records, err := h.store.Recent(ctx, pollName, limit)
	if err != nil {
		return nil, err
	}
	out := make([]pollapi.HistoryRecord, len(records))
	for i, r := range records {
		out[i] = pollapi.HistoryRecord{
			Seq:      r.Seq,
			TickID:   r.TickID,
			Phase:    r.Phase,
			Interval: r.Interval.String(),
			Value:    r.Value,
			Error:    r.Error,
			At:       r.At,
		}
	}
	return out, nil
}

// httpHealthCheckFactory builds a poll.FactoryFunc that GETs url and treats
// any 2xx response as success, reporting the response status line.
func httpHealthCheckFactory(url string) poll.FactoryFunc[string] {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context, prior poll.Tick[string]) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", fmt.Errorf("unhealthy status: %s", resp.Status)
		}
		return resp.Status, nil
	}
}
