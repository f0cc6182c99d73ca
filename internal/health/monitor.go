// Package health decides whether the primary tab is still logged in and keeps that answer
// fresh on an interval.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/musinsa-manager/internal/browser/remote"
	"github.com/xkilldash9x/musinsa-manager/internal/config"
	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
	"github.com/xkilldash9x/musinsa-manager/internal/observability"
)

const (
	Online  = "online"
	Offline = "offline"

	SourcePing  = "ping"
	SourceDOM   = "dom"
	SourceError = "error"

	ReasonWindowMissing = "musinsa_window_missing"
	ReasonException     = "exception"
)

// Status is one probe result. It is never cached; every value is a fresh probe.
type Status struct {
	Status    string `json:"status"`
	CheckedAt int64  `json:"checkedAt"`
	Reason    string `json:"reason,omitempty"`
	Source    string `json:"source"`
}

// Online reports the online state.
func (s Status) Online() bool { return s.Status == Online }

// EvaluatorSource returns the primary tab.
type EvaluatorSource func() (remote.Evaluator, error)

type domArgs struct {
	Link   string `json:"link"`
	Marker string `json:"marker"`
}

// logoutMarker looks for the header link in its logged-in form.
var logoutMarker = remote.New[domArgs, bool]("session_dom", `async (a) => {
  const link = document.querySelector(a.link);
  if (!link) return false;
  const text = (link.textContent || '').trim();
  return Boolean(link.querySelector(a.marker)) || /로그아웃/i.test(text);
}`)

// Monitor probes the session on demand and on an interval.
type Monitor struct {
	cfg       config.HealthConfig
	endpoints musinsa.Endpoints
	source    EvaluatorSource
	publish   func(Status)
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor builds a monitor. publish receives every result, online or not.
func NewMonitor(cfg config.HealthConfig, endpoints musinsa.Endpoints, source EvaluatorSource, publish func(Status), metrics *observability.Metrics, logger *zap.Logger) *Monitor {
	if publish == nil {
		publish = func(Status) {}
	}
	return &Monitor{
		cfg:       cfg,
		endpoints: endpoints,
		source:    source,
		publish:   publish,
		metrics:   metrics,
		logger:    logger.Named("health"),
		now:       time.Now,
	}
}

// Check probes the session with an authenticated API ping and a DOM marker. Either signal
// is enough for online; ping decides the source when it succeeded.
func (m *Monitor) Check(ctx context.Context) Status {
	st := m.check(ctx)
	m.metrics.SessionCheck(st.Status, st.Source)
	m.logger.Debug("Session checked.", zap.String("status", st.Status), zap.String("source", st.Source), zap.String("reason", st.Reason))
	return st
}

func (m *Monitor) check(ctx context.Context) Status {
	at := m.now()
	offline := func(reason string) Status {
		return Status{Status: Offline, CheckedAt: at.UnixMilli(), Reason: reason, Source: SourceError}
	}

	ev, err := m.source()
	if err != nil {
		return offline(ReasonWindowMissing)
	}
	if m.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		defer cancel()
	}

	var (
		pingOK, domOK   bool
		pingErr, domErr error
	)
	// The signals run without shared cancellation; one failing must not cut the other short.
	var g errgroup.Group
	g.Go(func() error {
		res, err := musinsa.NewPageFetcher(ev).Do(ctx, musinsa.Request{Method: "GET", URL: m.endpoints.SessionPing(at)})
		if err != nil {
			pingErr = err
			return nil
		}
		pingOK = res.OK()
		return nil
	})
	g.Go(func() error {
		domOK, domErr = logoutMarker.Run(ctx, ev, domArgs{Link: "a._gnb__login_vuwmc_206", Marker: "._logout_vuwmc_232"})
		return nil
	})
	_ = g.Wait()

	if pingOK {
		return Status{Status: Online, CheckedAt: at.UnixMilli(), Source: SourcePing}
	}
	if domOK {
		return Status{Status: Online, CheckedAt: at.UnixMilli(), Source: SourceDOM}
	}
	if remote.KindOf(domErr) == remote.KindWindowMissing || remote.KindOf(pingErr) == remote.KindWindowMissing {
		return offline(ReasonWindowMissing)
	}
	if domErr != nil {
		return offline(ReasonException)
	}

	return Status{
		Status:    Offline,
		CheckedAt: at.UnixMilli(),
		Reason:    fmt.Sprintf("ping:%s, dom:%s", okWord(pingOK, "ok", "fail"), okWord(domOK, "yes", "no")),
		Source:    SourceDOM,
	}
}

func okWord(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}

// Refresh checks and publishes.
func (m *Monitor) Refresh(ctx context.Context) Status {
	st := m.Check(ctx)
	m.publish(st)
	return st
}

// Start runs a check immediately and then every interval until Stop. Calling Start while
// running restarts the schedule.
func (m *Monitor) Start(ctx context.Context) {
	m.Stop()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.cancel, m.done = cancel, done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		m.Refresh(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				m.Refresh(loopCtx)
			}
		}
	}()
	m.logger.Info("Session watch started.", zap.Duration("interval", m.cfg.Interval))
}

// Stop ends the interval loop and waits for it. It is safe to call when not running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the interval loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}
