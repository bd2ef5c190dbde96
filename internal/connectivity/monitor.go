// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

// Package connectivity tracks whether the agent can reach the internet.
//
// The Monitor probes a stable host on a fixed interval. It keeps the last
// result as a process-local boolean and fires a Signal on every
// offline-to-online transition. Polling is used because there is no
// portable online/offline notification across the hosts the POS runs on.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/tomtom215/shelfguard/internal/logging"
	"github.com/tomtom215/shelfguard/internal/metrics"
)

const (
	// DefaultInterval is the time between probes.
	DefaultInterval = 30 * time.Second
	// DefaultTimeout bounds a single probe.
	DefaultTimeout = 5 * time.Second
	// DefaultProbeURL answers HEAD quickly from anywhere.
	DefaultProbeURL = "https://www.google.com/generate_204"
)

// Prober performs one reachability check.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// HTTPProber sends a HEAD request. Any HTTP response, whatever its status,
// proves the network path works.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, http.NoBody)
	if err != nil {
		return err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Config configures a Monitor.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Monitor owns the connectivity state.
type Monitor struct {
	prober   Prober
	clock    clock.Clock
	signal   *Signal
	interval time.Duration
	timeout  time.Duration

	mu     sync.RWMutex
	online bool
}

// NewMonitor creates a Monitor that starts offline. signal may be shared
// with other producers such as the OAuth callback.
func NewMonitor(cfg Config, prober Prober, clk clock.Clock, signal *Signal) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if signal == nil {
		signal = NewSignal()
	}
	metrics.SetOnline(false)
	return &Monitor{
		prober:   prober,
		clock:    clk,
		signal:   signal,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
	}
}

// IsOnline reports the result of the most recent probe.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Signal returns the reconnect signal.
func (m *Monitor) Signal() *Signal {
	return m.signal
}

// Check runs one probe and applies the transition. It returns the new state.
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.prober.Probe(probeCtx)
	cancel()
	online := err == nil

	m.mu.Lock()
	was := m.online
	m.online = online
	m.mu.Unlock()

	metrics.SetOnline(online)
	switch {
	case !was && online:
		metrics.ConnectivityTransitions.WithLabelValues("up").Inc()
		logging.Info().Msg("Connectivity restored")
		m.signal.Notify()
	case was && !online:
		metrics.ConnectivityTransitions.WithLabelValues("down").Inc()
		logging.Warn().Err(err).Msg("Connectivity lost")
	}
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	logging.Info().Dur("interval", m.interval).Dur("timeout", m.timeout).Msg("Connectivity monitor started")
	for {
		m.Check(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(m.interval):
		}
	}
}
