// Package healthprobe runs the periodic backend health checks that feed the
// lb package's health state machine, per spec §4.5. Probes are issued
// through the same HTTP/2 pool used for the data plane, so a backend's
// health status reflects the same connection path live traffic uses.
package healthprobe

import (
	"context"
	"net/http"
	"sync"
	"time"

	"edgeproxy/internal/h2pool"
	"edgeproxy/internal/lb"
	"edgeproxy/internal/logging"
)

// Prober drives one ticker goroutine per backend across all configured
// pools, probing its configured health_check.path and recording the
// 2xx/else outcome into the shared BackendState.
type Prober struct {
	pool   *h2pool.Pool
	logger *logging.Logger

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates a Prober bound to the shared backend HTTP/2 pool.
func New(pool *h2pool.Pool, logger *logging.Logger) *Prober {
	return &Prober{
		pool:   pool,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start launches one probe goroutine per backend state across all pools.
func (p *Prober) Start(pools []*lb.Pool) {
	for _, pool := range pools {
		for _, backend := range pool.Backends() {
			p.wg.Add(1)
			go p.run(pool.Name(), backend)
		}
	}
}

// Stop signals all probe goroutines to exit and waits for them.
func (p *Prober) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Prober) run(poolName string, backend *lb.BackendState) {
	defer p.wg.Done()

	interval := backend.Backend.HealthCheck.Interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.probeOnce(poolName, backend)
		}
	}
}

func (p *Prober) probeOnce(poolName string, backend *lb.BackendState) {
	now := time.Now()
	hc := backend.Backend.HealthCheck

	ctx, cancel := context.WithTimeout(context.Background(), hc.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+backend.Backend.Address+hc.Path, nil)
	if err != nil {
		backend.RecordFailure(now)
		return
	}

	resp, err := p.pool.Send(ctx, backend.Backend.Address, req)
	if err != nil {
		backend.RecordFailure(now)
		if p.logger != nil {
			p.logger.WithFields(map[string]interface{}{
				"pool":    poolName,
				"backend": backend.Backend.ID,
				"error":   err.Error(),
			}).Debug("health probe failed")
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		backend.RecordSuccess(now)
	} else {
		backend.RecordFailure(now)
	}
}
