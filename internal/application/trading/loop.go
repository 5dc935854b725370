// Package trading runs the control loop: reconcile, clean up, snapshot,
// decide and execute, then sleep until the next tick.
package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/racebot/internal/application/execution"
	"github.com/alejandrodnm/racebot/internal/application/reconcile"
	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/alejandrodnm/racebot/internal/ports"
	"github.com/google/uuid"
)

var (
	// ErrTooManyErrors stops the loop after too many consecutive application errors.
	ErrTooManyErrors = errors.New("too many consecutive errors")
	// ErrConnectivityLost stops the loop when the exchange stays unreachable.
	ErrConnectivityLost = errors.New("connectivity lost")
)

// Snapshotter builds the selection states for a tick.
type Snapshotter interface {
	Build(ctx context.Context, now time.Time) ([]domain.SelectionState, error)
}

// Decider is the pure decision step.
type Decider interface {
	Decide(states []domain.SelectionState, now time.Time) domain.DecisionResult
}

// OrderExecutor applies a decision.
type OrderExecutor interface {
	Execute(ctx context.Context, res domain.DecisionResult) (execution.Stats, error)
}

// OrderCleaner cancels orders that should no longer rest.
type OrderCleaner interface {
	Run(ctx context.Context, now time.Time) (execution.CleanupStats, error)
}

// LedgerReconciler syncs the ledger with the exchange.
type LedgerReconciler interface {
	Run(ctx context.Context, now time.Time) (reconcile.Report, error)
}

// SleepBracket sleeps Sleep when the nearest race is less than Within away.
type SleepBracket struct {
	Within time.Duration
	Sleep  time.Duration
}

// DefaultBrackets are the tick intervals used when none are configured.
var DefaultBrackets = []SleepBracket{
	{Within: 10 * time.Minute, Sleep: 10 * time.Second},
	{Within: 30 * time.Minute, Sleep: 30 * time.Second},
	{Within: 60 * time.Minute, Sleep: 60 * time.Second},
}

// LoopConfig holds the loop's timing policy.
type LoopConfig struct {
	Brackets             []SleepBracket // ascending by Within
	DefaultSleep         time.Duration
	MaxConsecutiveErrors int
	BackoffUnit          time.Duration
	MaxBackoff           time.Duration
	ConnectivityTimeout  time.Duration
	ConnectivityPoll     time.Duration
	Once                 bool
}

func (c *LoopConfig) setDefaults() {
	if len(c.Brackets) == 0 {
		c.Brackets = DefaultBrackets
	}
	if c.DefaultSleep <= 0 {
		c.DefaultSleep = 120 * time.Second
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 10
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = 10 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 300 * time.Second
	}
	if c.ConnectivityTimeout <= 0 {
		c.ConnectivityTimeout = 10 * time.Minute
	}
	if c.ConnectivityPoll <= 0 {
		c.ConnectivityPoll = 15 * time.Second
	}
}

// Deps are the collaborators of the loop. Notifier and Metrics are optional.
type Deps struct {
	Session    ports.Session
	Store      ports.SelectionStore
	Snapshots  Snapshotter
	Engine     Decider
	Executor   OrderExecutor
	Cleanup    OrderCleaner
	Reconciler LedgerReconciler
	Notifier   ports.Notifier
	Metrics    ports.Metrics
}

// Loop is the single control loop. Placement and cancellation happen on its
// goroutine only.
type Loop struct {
	d   Deps
	cfg LoopConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLoop creates a Loop.
func NewLoop(d Deps, cfg LoopConfig) *Loop {
	cfg.setDefaults()
	if d.Metrics == nil {
		d.Metrics = ports.NopMetrics{}
	}
	return &Loop{
		d:     d,
		cfg:   cfg,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// tickResult is what one tick produced.
type tickResult struct {
	next time.Duration
	done bool
}

// Run logs in and ticks until every race of the day has started, the context
// is cancelled or a fatal error occurs. The session is logged out on exit.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.d.Session.Login(ctx); err != nil {
		return fmt.Errorf("trading.Run: login: %w", err)
	}
	defer l.logout()

	consecutive := 0
	for {
		if ctx.Err() != nil {
			slog.Info("loop: stopping", "reason", ctx.Err())
			return nil
		}

		res, err := l.tick(ctx, l.now())
		switch {
		case err == nil:
			consecutive = 0
		case ctx.Err() != nil:
			return nil
		case IsNetworkError(err):
			l.d.Metrics.LoopError("network")
			if l.cfg.Once {
				return fmt.Errorf("trading.Run: %w", err)
			}
			slog.Warn("loop: exchange unreachable, waiting for connectivity", "err", err)
			if werr := l.waitForConnectivity(ctx); werr != nil {
				return fmt.Errorf("trading.Run: %w (last error: %v)", werr, err)
			}
			continue
		default:
			consecutive++
			l.d.Metrics.LoopError("application")
			if consecutive > l.cfg.MaxConsecutiveErrors {
				return fmt.Errorf("trading.Run: %w: %d in a row, last: %w", ErrTooManyErrors, consecutive, err)
			}
			if l.cfg.Once {
				return fmt.Errorf("trading.Run: %w", err)
			}
			res.next = Backoff(consecutive, l.cfg.BackoffUnit, l.cfg.MaxBackoff)
			slog.Error("loop: tick failed", "err", err, "attempt", consecutive, "backoff", res.next)
		}

		if res.done {
			slog.Info("loop: all races started, done")
			return nil
		}
		if l.cfg.Once {
			return nil
		}

		l.d.Metrics.Sleep(res.next)
		if err := l.sleep(ctx, res.next); err != nil {
			return nil
		}
	}
}

// tick runs one full cycle.
func (l *Loop) tick(ctx context.Context, now time.Time) (tickResult, error) {
	cycleID := uuid.NewString()
	log := slog.With("cycle", cycleID[:8])

	latest, err := l.d.Store.LatestRaceTime(ctx, startOfDay(now))
	if errors.Is(err, ports.ErrNotFound) {
		log.Info("loop: no selections for today")
		return tickResult{done: true}, nil
	}
	if err != nil {
		return tickResult{}, fmt.Errorf("latest race time: %w", err)
	}

	// always reconcile, also after the last race so the ledger is final
	rep, err := l.d.Reconciler.Run(ctx, now)
	if err != nil {
		return tickResult{}, fmt.Errorf("reconcile: %w", err)
	}
	if !now.Before(latest) {
		return tickResult{done: true}, nil
	}

	cst, err := l.d.Cleanup.Run(ctx, now)
	if err != nil {
		return tickResult{}, fmt.Errorf("cleanup: %w", err)
	}

	states, err := l.d.Snapshots.Build(ctx, now)
	if err != nil {
		return tickResult{}, fmt.Errorf("snapshot: %w", err)
	}

	decision := l.d.Engine.Decide(states, now)
	est, err := l.d.Executor.Execute(ctx, decision)
	if err != nil {
		return tickResult{}, fmt.Errorf("execute: %w", err)
	}

	next := l.SleepFor(nearestRace(states, now))
	report := domain.CycleReport{
		CycleID:       cycleID,
		At:            now,
		Selections:    len(states),
		Active:        countActive(states, now),
		Placed:        est.Placed,
		Matched:       est.Matched,
		Failed:        est.Failed,
		Skipped:       est.Skipped,
		Suppressed:    len(decision.Suppressed) + est.Refused,
		Invalidated:   est.Invalidated,
		CashOuts:      est.CashOutOrders,
		Cancelled:     cst.Cancelled + est.Resized,
		BetLogRows:    rep.BetLogRows,
		PendingOrders: rep.PendingOrders,
		NextSleep:     next,
	}
	log.Info("loop: tick done",
		"selections", report.Selections, "active", report.Active,
		"placed", report.Placed, "matched", report.Matched, "failed", report.Failed,
		"cancelled", report.Cancelled, "next", next)
	if l.d.Notifier != nil {
		if err := l.d.Notifier.CycleSummary(ctx, report); err != nil {
			log.Warn("loop: notify failed", "err", err)
		}
	}
	return tickResult{next: next}, nil
}

// waitForConnectivity pings until the exchange answers or the timeout passes.
func (l *Loop) waitForConnectivity(ctx context.Context) error {
	deadline := l.now().Add(l.cfg.ConnectivityTimeout)
	for {
		if err := l.sleep(ctx, l.cfg.ConnectivityPoll); err != nil {
			return err
		}
		err := l.d.Session.Ping(ctx)
		if err == nil {
			slog.Info("loop: connectivity restored")
			return nil
		}
		if !l.now().Before(deadline) {
			return fmt.Errorf("%w after %s: %v", ErrConnectivityLost, l.cfg.ConnectivityTimeout, err)
		}
		slog.Debug("loop: still offline", "err", err)
	}
}

func (l *Loop) logout() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.d.Session.Logout(ctx); err != nil {
		slog.Warn("loop: logout failed", "err", err)
		return
	}
	slog.Info("loop: logged out")
}

// SleepFor returns the tick interval for the nearest race. A negative value
// means no race is pending.
func (l *Loop) SleepFor(nearest time.Duration) time.Duration {
	if nearest < 0 {
		return l.cfg.DefaultSleep
	}
	for _, b := range l.cfg.Brackets {
		if nearest < b.Within {
			return b.Sleep
		}
	}
	return l.cfg.DefaultSleep
}

// Backoff is min(attempt² × unit, ceiling).
func Backoff(attempt int, unit, ceiling time.Duration) time.Duration {
	d := time.Duration(math.Pow(float64(attempt), 2)) * unit
	if d > ceiling || d <= 0 {
		return ceiling
	}
	return d
}

func nearestRace(states []domain.SelectionState, now time.Time) time.Duration {
	nearest := time.Duration(-1)
	for _, s := range states {
		if s.RaceTime.IsZero() || s.RaceStarted(now) {
			continue
		}
		if d := s.RaceTime.Sub(now); nearest < 0 || d < nearest {
			nearest = d
		}
	}
	return nearest
}

func countActive(states []domain.SelectionState, now time.Time) int {
	n := 0
	for _, s := range states {
		if !s.Terminal(now) {
			n++
		}
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
