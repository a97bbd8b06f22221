package service

import (
	"context"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"github.com/oceanomics/seqtrack/internal/client"
	"github.com/oceanomics/seqtrack/pkg/metrics"
	"go.uber.org/zap"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
)

type BackendHealthState int

const (
	HealthCheckStateBackendUnreachable BackendHealthState = iota
	HealthCheckStateBackendReachable
	defaultHealthTimeout = 5 * time.Second
	defaultCheckInterval = 10 * time.Second
)

func (s BackendHealthState) String() string {
	if s == HealthCheckStateBackendReachable {
		return "reachable"
	}
	return "unreachable"
}

type HealthProber interface {
	Health(ctx context.Context) (*client.HealthResponse, error)
}

type HealthChecker struct {
	once          sync.Once
	lock          sync.Mutex
	state         BackendHealthState
	checked       bool
	checkInterval time.Duration
	client        HealthProber
	server        string
	log           *zap.SugaredLogger
}

func NewHealthChecker(client HealthProber, server string, checkInterval time.Duration) *HealthChecker {
	if checkInterval <= 0 {
		checkInterval = defaultCheckInterval
	}
	return &HealthChecker{
		state:         HealthCheckStateBackendUnreachable,
		checkInterval: checkInterval,
		client:        client,
		server:        server,
		log:           zap.S().Named("health"),
	}
}

// Start runs a check now and then periodically until a channel is received
// on closeCh. The received channel is closed once the loop has exited.
// Only state transitions are logged.
func (h *HealthChecker) Start(ctx context.Context, closeCh chan chan any) {
	_ = h.Check(ctx)

	h.once.Do(func() {
		go func() {
			defer utilruntime.HandleCrash()

			t := jitterbug.New(h.checkInterval, &jitterbug.Norm{Stdev: h.checkInterval / 10})
			defer t.Stop()
			for {
				select {
				case c := <-closeCh:
					c <- struct{}{}
					close(c)
					return
				case <-ctx.Done():
					return
				case <-t.C:
					_ = h.Check(ctx)
				}
			}
		}()
	})
}

func (h *HealthChecker) State() BackendHealthState {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.state
}

// Check calls the backend once and records the result.
func (h *HealthChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultHealthTimeout)
	defer cancel()

	_, err := h.client.Health(ctx)
	next := HealthCheckStateBackendReachable
	if err != nil {
		next = HealthCheckStateBackendUnreachable
	}

	h.lock.Lock()
	changed := !h.checked || h.state != next
	h.state = next
	h.checked = true
	h.lock.Unlock()

	metrics.UpdateBackendUpMetric(err == nil)
	if err != nil {
		if changed {
			h.log.Warnf("%s is unreachable: %v", h.server, err)
		}
		return NewErrBackendUnavailable(h.server, err)
	}
	if changed {
		h.log.Infof("%s is OK", h.server)
	}
	return nil
}
