package health

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storage-kit-hub/internal/daemon"
	"storage-kit-hub/internal/domain/entities"
	"storage-kit-hub/internal/domain/repositories"
	"storage-kit-hub/internal/metrics"
)

type Report struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
	Backends  []Status  `json:"backends"`
}

// Factory turns a backend configuration into a checker.
type Factory func(ctx context.Context, cfg entities.BackendConfig) Checker

// DefaultFactory routes lotus/filecoin to the Lotus client, ipfs to the IPFS
// client, s3 to HeadBucket and everything else to an HTTP probe of the endpoint.
func DefaultFactory(lotus *daemon.LotusClient, ipfs *daemon.IPFSClient, httpClient *http.Client) Factory {
	return func(ctx context.Context, cfg entities.BackendConfig) Checker {
		switch cfg.Type {
		case "lotus", "filecoin":
			if lotus != nil {
				return &LotusChecker{Name: cfg.Name, Client: lotus}
			}
		case "ipfs":
			if ipfs != nil {
				return &IPFSChecker{Name: cfg.Name, Client: ipfs}
			}
		case "s3":
			c, err := NewS3Checker(ctx, cfg.Name, cfg.Setting("bucket"), cfg.Setting("region"), cfg.Endpoint)
			if err != nil {
				return unavailable{name: cfg.Name, typ: cfg.Type, reason: err.Error()}
			}
			return c
		}
		url := cfg.Endpoint
		if path := cfg.Setting("health_path"); url != "" && path != "" {
			url = strings.TrimRight(url, "/") + "/" + strings.TrimLeft(path, "/")
		}
		return &HTTPChecker{Name: cfg.Name, Type: cfg.Type, URL: url, Client: httpClient}
	}
}

// Aggregator probes every enabled backend concurrently.
type Aggregator struct {
	backends repositories.BackendRepository
	factory  Factory
	timeout  time.Duration
	metrics  *metrics.Metrics
	log      *zap.Logger

	mu   sync.RWMutex
	last *Report
}

func NewAggregator(backends repositories.BackendRepository, factory Factory, timeout time.Duration,
	m *metrics.Metrics, log *zap.Logger) *Aggregator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{backends: backends, factory: factory, timeout: timeout, metrics: m, log: log}
}

// CheckAll runs every check with its own timeout and caches the report.
func (a *Aggregator) CheckAll(ctx context.Context) (*Report, error) {
	cfgs, err := a.backends.List(ctx)
	if err != nil {
		return nil, err
	}

	var enabled []entities.BackendConfig
	for _, c := range cfgs {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}

	results := make([]Status, len(enabled))
	g, gctx := errgroup.WithContext(ctx)
	for i, cfg := range enabled {
		i, cfg := i, cfg
		g.Go(func() error {
			results[i] = a.checkOne(gctx, cfg)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Backend < results[j].Backend })
	report := &Report{Healthy: true, CheckedAt: time.Now().UTC(), Backends: results}
	for _, st := range results {
		if !st.Healthy {
			report.Healthy = false
		}
	}

	a.mu.Lock()
	a.last = report
	a.mu.Unlock()
	return report, nil
}

// Check probes a single backend configuration.
func (a *Aggregator) Check(ctx context.Context, cfg entities.BackendConfig) Status {
	return a.checkOne(ctx, cfg)
}

func (a *Aggregator) checkOne(ctx context.Context, cfg entities.BackendConfig) Status {
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	st := a.factory(cctx, cfg).Check(cctx)
	if st.Backend == "" {
		st.Backend = cfg.Name
	}
	if st.Type == "" {
		st.Type = cfg.Type
	}
	a.metrics.ObserveHealth(cfg.Name, st.Healthy)
	if !st.Healthy {
		a.log.Warn("backend unhealthy", zap.String("backend", cfg.Name), zap.String("detail", st.Detail))
	}
	return st
}

// Last returns the most recent report, or nil before the first CheckAll.
func (a *Aggregator) Last() *Report {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}
