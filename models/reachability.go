package models

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rohanthewiz/logger"
)

// ============================================================================
// Reachability Monitor
//
// Probes the remote's health endpoint on an interval and tracks a single
// online/offline bit. Interested parties register callbacks and are invoked
// on every transition; the sync engine uses the offline-to-online edge as a
// "network restored" trigger. SetOnline is public so platform connectivity
// events (or tests) can drive the state directly without waiting on a probe.
// ============================================================================

// defaultProbeInterval spaces health probes far enough apart that an idle
// app does not keep a radio awake.
const defaultProbeInterval = 30 * time.Second

// probeTimeout bounds a single health check so one hung probe cannot stall
// the loop for longer than a probe period.
const probeTimeout = 5 * time.Second

type ReachabilityMonitor struct {
	check    func(ctx context.Context) error
	interval time.Duration
	online   atomic.Bool
	cancel   context.CancelFunc

	mu   sync.Mutex
	subs []func(online bool)
}

// NewReachabilityMonitor wraps a health check function. Interval <= 0 picks
// the default. The monitor starts offline; the first probe runs immediately
// on Start.
func NewReachabilityMonitor(check func(ctx context.Context) error, interval time.Duration) *ReachabilityMonitor {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	return &ReachabilityMonitor{
		check:    check,
		interval: interval,
	}
}

// OnChange registers a callback invoked on every online/offline transition.
// Callbacks run on the goroutine that observed the change and must not block.
func (rm *ReachabilityMonitor) OnChange(fn func(online bool)) {
	rm.mu.Lock()
	rm.subs = append(rm.subs, fn)
	rm.mu.Unlock()
}

// IsOnline reports the last observed connectivity state.
func (rm *ReachabilityMonitor) IsOnline() bool {
	return rm.online.Load()
}

// SetOnline records a connectivity state and notifies subscribers when it
// changed.
func (rm *ReachabilityMonitor) SetOnline(online bool) {
	prev := rm.online.Swap(online)
	if prev == online {
		return
	}
	logger.Info("Connectivity changed", "online", online)

	rm.mu.Lock()
	subs := append([]func(bool){}, rm.subs...)
	rm.mu.Unlock()
	for _, fn := range subs {
		fn(online)
	}
}

// Start launches the probe loop. No-op when no check function was provided.
func (rm *ReachabilityMonitor) Start(ctx context.Context) {
	if rm.check == nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	rm.cancel = cancel

	go rm.probeLoop(ctx)
	logger.Info("Reachability monitor started", "interval", rm.interval.String())
}

// Stop halts the probe loop.
func (rm *ReachabilityMonitor) Stop() {
	if rm.cancel != nil {
		rm.cancel()
	}
}

func (rm *ReachabilityMonitor) probeLoop(ctx context.Context) {
	rm.probeOnce(ctx)

	ticker := time.NewTicker(rm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rm.probeOnce(ctx)
		}
	}
}

func (rm *ReachabilityMonitor) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := rm.check(probeCtx)
	if err != nil && ctx.Err() != nil {
		return // Shutting down; don't report a false offline
	}
	rm.SetOnline(err == nil)
}
