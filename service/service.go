// Package service wires the correlator's components together: node
// clients, the observation store, the chain tracker, the miss detector,
// the persistence writer and the query API, the same top-level assembly
// role mive/backend.go plays for mive's own Ethereum backend.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ethmiss/missmonitor/api"
	chaintypes "github.com/ethmiss/missmonitor/chain/types"
	"github.com/ethmiss/missmonitor/detector"
	"github.com/ethmiss/missmonitor/internal/shutdowncheck"
	"github.com/ethmiss/missmonitor/nodeclient"
	"github.com/ethmiss/missmonitor/observation"
	"github.com/ethmiss/missmonitor/service/monitorconfig"
	"github.com/ethmiss/missmonitor/storage"
	"github.com/ethmiss/missmonitor/tracker"
)

// Monitor is the assembled correlator: every node client subscription, the
// chain tracker's state machine, the persistence writer and the query API,
// started and stopped as one unit.
type Monitor struct {
	cfg monitorconfig.Config
	log log.Logger

	mainNode    *nodeclient.ExecutionClient
	secondaries []*nodeclient.ExecutionClient
	consensus   *nodeclient.ConsensusClient

	store    *observation.Store
	tracker  *tracker.Tracker
	writer   *storage.Writer
	api      *api.Server
	shutdown *shutdowncheck.ShutdownTracker

	writerPool *pgxpool.Pool
	apiPool    *pgxpool.Pool
}

// New dials every configured node, builds the store/tracker/detector/
// writer/API stack, and returns a Monitor ready to Run.
func New(ctx context.Context, cfg monitorconfig.Config, registry *prometheus.Registry) (*Monitor, error) {
	m := &Monitor{cfg: cfg, log: log.New("component", "service")}

	mainNode, err := nodeclient.DialExecutionClient(ctx, cfg.ExecutionHTTPURL)
	if err != nil {
		return nil, fmt.Errorf("dial main execution node: %w", err)
	}
	m.mainNode = mainNode

	consensus, err := nodeclient.NewConsensusClient(ctx, cfg.ConsensusHTTPURL)
	if err != nil {
		return nil, fmt.Errorf("dial consensus node: %w", err)
	}
	m.consensus = consensus

	for _, url := range cfg.SecondaryExecutionWSURLs {
		sec, err := nodeclient.DialExecutionClient(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("dial secondary node %s: %w", url, err)
		}
		m.secondaries = append(m.secondaries, sec)
	}

	m.store = observation.New(
		observation.WithQuorumThreshold(cfg.QuorumThreshold),
		observation.WithEvictionAge(cfg.EvictionAge),
	)

	detMetrics := detector.NewMetrics()
	det := &detector.Detector{
		AllNodes:                 m.allNodeIDs(),
		PropagationTimeThreshold: cfg.PropagationTime(),
		FetchNonce:               mainNode.FetchNonce,
		Metrics:                  detMetrics,
	}
	if registry != nil {
		registry.MustRegister(detMetrics.Collectors()...)
	}

	if cfg.DBEnabled {
		writerPool, err := pgxpool.New(ctx, cfg.DBConnection)
		if err != nil {
			return nil, fmt.Errorf("connect writer pool: %w", err)
		}
		m.writerPool = writerPool
		if err := storage.Migrate(ctx, writerPool); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		m.writer = storage.NewWriter(writerPool, cfg.WriterQueueDepth, storage.WithBlockTimeout(cfg.WriterBlockTimeout))
		m.shutdown = shutdowncheck.NewShutdownTracker(writerPool)
		if registry != nil {
			registry.MustRegister(m.writer.Collectors()...)
		}

		apiConnString := cfg.APIDBConnection
		if apiConnString == "" {
			apiConnString = cfg.DBConnection
		}
		apiPool, err := pgxpool.New(ctx, apiConnString)
		if err != nil {
			return nil, fmt.Errorf("connect api pool: %w", err)
		}
		m.apiPool = apiPool
		m.api = api.NewServer(api.Config{
			Host:               cfg.APIHost,
			Port:               cfg.APIPort,
			Pool:               apiPool,
			MaxRows:            cfg.APIMaxResponseRows,
			RequestTimeout:     cfg.APIRequestTimeout,
			Health:             m,
			Registry:           registry,
			CORSAllowedOrigins: cfg.APICORSOrigins,
		})
	}

	var sink tracker.Sink = noopSink{}
	if m.writer != nil {
		sink = m.writer
	}
	m.tracker = tracker.New(mainNode, consensus, m.store, det, sink)
	trackerMetrics := tracker.NewMetrics()
	m.tracker.Metrics = trackerMetrics
	if registry != nil {
		registry.MustRegister(trackerMetrics.Collectors()...)
	}
	return m, nil
}

// noopSink discards detection output when persistence is disabled
// (db.enabled = false), so the tracker always has a live Sink to call.
type noopSink struct{}

func (noopSink) Enqueue(ctx context.Context, head *chaintypes.Head, verdicts []chaintypes.Verdict, numPoolTransactions int) error {
	return nil
}

func (m *Monitor) allNodeIDs() []chaintypes.NodeID {
	ids := []chaintypes.NodeID{m.mainNode.ID()}
	for _, s := range m.secondaries {
		ids = append(ids, s.ID())
	}
	return ids
}

// TrackerState implements api.HealthReporter.
func (m *Monitor) TrackerState() string {
	if m.tracker == nil {
		return "UNKNOWN"
	}
	return m.tracker.State().String()
}

// WriterQueueDepth implements api.HealthReporter.
func (m *Monitor) WriterQueueDepth() int {
	if m.writer == nil {
		return 0
	}
	return m.writer.QueueDepth()
}

// Run starts every subscription goroutine, the tracker, the writer and
// the API server, blocking until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	if m.shutdown != nil {
		m.shutdown.MarkStartup(ctx)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 8)

	startPending := func(client nodeclient.PendingSubscriber) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, err := client.SubscribePendingHashes(ctx)
			if err != nil {
				errCh <- fmt.Errorf("subscribe pending hashes on %s: %w", client.ID(), err)
				return
			}
			for obs := range ch {
				m.store.ObservePending(client.ID(), obs.Hash, obs.ObservationTime)
			}
		}()
	}

	startPending(m.mainNode)
	for _, sec := range m.secondaries {
		startPending(sec)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.tracker.Run(ctx); err != nil {
			errCh <- fmt.Errorf("tracker: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.runStaleEviction(ctx)
	}()

	if m.writer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.writer.Run(ctx); err != nil {
				errCh <- fmt.Errorf("writer: %w", err)
			}
		}()
	}

	if m.api != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.api.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	<-ctx.Done()
	m.shutdownGracefully()

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			m.log.Warn("component stopped with error", "error", err)
		}
	}
	return nil
}

// runStaleEviction periodically drops transactions that have been absent
// from the pool for longer than the configured eviction age. It runs
// independently of the tracker's per-head eviction-by-inclusion.
func (m *Monitor) runStaleEviction(ctx context.Context) {
	interval := m.cfg.EvictionAge / 4
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.store.EvictStale(time.Now().UTC()); n > 0 {
				m.log.Debug("evicted stale pool transactions", "count", n)
			}
		}
	}
}

func (m *Monitor) shutdownGracefully() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if m.api != nil {
		if err := m.api.Shutdown(shutdownCtx); err != nil {
			m.log.Warn("api shutdown error", "error", err)
		}
	}
	if m.shutdown != nil {
		m.shutdown.MarkCleanShutdown(shutdownCtx)
	}
	if m.writerPool != nil {
		m.writerPool.Close()
	}
	if m.apiPool != nil {
		m.apiPool.Close()
	}
}
