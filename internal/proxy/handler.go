// Package proxy wires router, load balancer, bridge, and the backend pool
// together into the request path described in spec §2 steps 3-6. It is
// handed to http3.Server as a standard http.Handler; quic-go/http3 already
// does the QUIC/QPACK wire-level work and converts each stream into a
// *http.Request before this handler ever runs.
package proxy

import (
	"context"
	"errors"
	"net/http"
	"time"

	"edgeproxy/internal/bridge"
	"edgeproxy/internal/config"
	"edgeproxy/internal/h2pool"
	"edgeproxy/internal/lb"
	"edgeproxy/internal/logging"
	"edgeproxy/internal/metrics"
	"edgeproxy/internal/router"
)

// Handler implements http.Handler, dispatching each inbound request through
// routing, backend selection, protocol bridging, and the backend pool.
type Handler struct {
	Pools   map[string]config.Upstream
	LBPools map[string]*lb.Pool
	Backend *h2pool.Pool
	Metrics *metrics.Metrics
	Logger  *logging.Logger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.Metrics.RequestsTotal.Inc()

	poolName, ok := router.Route(h.Pools, r.Host, r.URL.Path)
	if !ok {
		h.Metrics.RequestsFailure.Inc()
		http.Error(w, "no route matches this request", http.StatusServiceUnavailable)
		return
	}

	lbPool, ok := h.LBPools[poolName]
	if !ok {
		h.Metrics.RequestsFailure.Inc()
		http.Error(w, "pool not configured", http.StatusInternalServerError)
		return
	}

	backend, err := lbPool.Select(time.Now(), lb.SelectionKey{
		Authority: r.Host,
		Path:      r.URL.Path,
		Method:    r.Method,
	})
	if err != nil {
		h.Metrics.RequestsFailure.Inc()
		http.Error(w, "no healthy backend available", http.StatusServiceUnavailable)
		return
	}

	backendReq, err := bridge.BuildBackendRequest(r, backend.Backend.Address)
	if err != nil {
		h.Metrics.RequestsFailure.Inc()
		if errors.Is(err, bridge.ErrBodyTooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	resp, err := h.Backend.Send(r.Context(), backend.Backend.Address, backendReq)
	if err != nil {
		h.Metrics.RequestsFailure.Inc()
		if errors.Is(err, h2pool.ErrUnknownBackend) {
			// Config drift between the LB pool and the H2 pool's backend
			// registry; not a live-traffic health signal (spec §7).
			if h.Logger != nil {
				h.Logger.WithField("backend", backend.Backend.Address).Warn("unknown backend in pool")
			}
			http.Error(w, "backend not registered", http.StatusInternalServerError)
			return
		}
		h.recordBackendFailure(backend, err)
		// spec §7: BackendTimeout -> 503, BackendTransport (any other send
		// error) -> 502.
		status := http.StatusBadGateway
		if errors.Is(err, h2pool.ErrBackendTimeout) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, "backend request failed", status)
		return
	}

	bridged, err := bridge.CopyResponse(resp)
	if err != nil {
		h.Metrics.RequestsFailure.Inc()
		if errors.Is(err, bridge.ErrBodyTooLarge) {
			http.Error(w, "backend response too large", http.StatusBadGateway)
			return
		}
		http.Error(w, "backend response error", http.StatusBadGateway)
		return
	}

	// spec §7: health transitions only follow a 2xx origin response; 4xx/5xx
	// are proxied as-is and never flip health. Metrics bucket on the
	// conventional success/failure line at 500, independent of health.
	if bridged.StatusCode >= 200 && bridged.StatusCode < 300 {
		backend.RecordSuccess(time.Now())
	}
	if bridged.StatusCode < 500 {
		h.Metrics.RequestsSuccess.Inc()
	} else {
		h.Metrics.RequestsFailure.Inc()
	}

	for key, values := range bridged.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(bridged.StatusCode)
	_, _ = w.Write(bridged.Body)

	if h.Logger != nil {
		h.Logger.LogRequest(r.Method, r.URL.Path, poolName, backend.Backend.Address, bridged.StatusCode, time.Since(start).Milliseconds())
	}
}

func (h *Handler) recordBackendFailure(backend *lb.BackendState, err error) {
	backend.RecordFailure(time.Now())
	if errors.Is(err, h2pool.ErrBackendTimeout) {
		h.Metrics.BackendTimeouts.Inc()
		return
	}
	h.Metrics.BackendErrors.Inc()
}
