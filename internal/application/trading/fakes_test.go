package trading

import (
	"context"
	"sync"
	"time"

	"github.com/alejandrodnm/racebot/internal/application/execution"
	"github.com/alejandrodnm/racebot/internal/application/reconcile"
	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/alejandrodnm/racebot/internal/ports"
)

type fakeSession struct {
	loginErr error
	pingErrs []error // consumed in order, nil once exhausted
	alwaysFailPing error

	logins, logouts, pings int
}

func (s *fakeSession) Login(context.Context) error {
	s.logins++
	return s.loginErr
}

func (s *fakeSession) Logout(context.Context) error {
	s.logouts++
	return nil
}

func (s *fakeSession) Ping(context.Context) error {
	s.pings++
	if s.alwaysFailPing != nil {
		return s.alwaysFailPing
	}
	if len(s.pingErrs) == 0 {
		return nil
	}
	err := s.pingErrs[0]
	s.pingErrs = s.pingErrs[1:]
	return err
}

type fakeStore struct {
	latest     time.Time
	latestErr  error
	selections []domain.SelectionState
	filter     domain.SelectionFilter
}

func (s *fakeStore) FetchSelections(_ context.Context, f domain.SelectionFilter) ([]domain.SelectionState, error) {
	s.filter = f
	return append([]domain.SelectionState(nil), s.selections...), nil
}
func (s *fakeStore) InvalidateSelection(context.Context, domain.Invalidation) error { return nil }
func (s *fakeStore) UpdateSelectionProgress(context.Context, domain.SelectionProgress) error {
	return nil
}
func (s *fakeStore) RaceTimes(context.Context, []string) (map[string]time.Time, error) {
	return nil, nil
}
func (s *fakeStore) LatestRaceTime(context.Context, time.Time) (time.Time, error) {
	return s.latest, s.latestErr
}

type fakeSnapshots struct{ states []domain.SelectionState }

func (f *fakeSnapshots) Build(context.Context, time.Time) ([]domain.SelectionState, error) {
	return f.states, nil
}

type fakeEngine struct{ calls int }

func (f *fakeEngine) Decide([]domain.SelectionState, time.Time) domain.DecisionResult {
	f.calls++
	return domain.DecisionResult{}
}

type fakeExecutor struct {
	errs  []error // consumed in order, nil once exhausted
	stats execution.Stats
	calls int
}

func (f *fakeExecutor) Execute(context.Context, domain.DecisionResult) (execution.Stats, error) {
	f.calls++
	if len(f.errs) == 0 {
		if f.stats == (execution.Stats{}) {
			return execution.Stats{Placed: 1}, nil
		}
		return f.stats, nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return execution.Stats{}, err
}

type fakeCleanup struct {
	stats execution.CleanupStats
	calls int
}

func (f *fakeCleanup) Run(context.Context, time.Time) (execution.CleanupStats, error) {
	f.calls++
	return f.stats, nil
}

type fakeReconciler struct{ calls int }

func (f *fakeReconciler) Run(context.Context, time.Time) (reconcile.Report, error) {
	f.calls++
	return reconcile.Report{}, nil
}

type fakeNotifier struct{ reports []domain.CycleReport }

func (f *fakeNotifier) CycleSummary(_ context.Context, r domain.CycleReport) error {
	f.reports = append(f.reports, r)
	return nil
}

func (f *fakeNotifier) Report(context.Context, []domain.BetLogRow, []domain.PendingOrderRow) error {
	return nil
}

type loopMetrics struct {
	ports.NopMetrics
	mu     sync.Mutex
	errors map[string]int
}

func (m *loopMetrics) LoopError(class string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		m.errors = map[string]int{}
	}
	m.errors[class]++
}

type fakeExchange struct {
	mu      sync.Mutex
	books   map[string]domain.MarketBook
	current []domain.ExchangeOrder
	calls   [][]string
	err     error
}

func (f *fakeExchange) CurrentOrders(context.Context, []string) ([]domain.ExchangeOrder, error) {
	return f.current, nil
}
func (f *fakeExchange) PastOrders(context.Context, time.Time, time.Time) ([]domain.ClearedOrder, error) {
	return nil, nil
}
func (f *fakeExchange) PlaceOrder(context.Context, domain.Order) (domain.PlaceResult, error) {
	return domain.PlaceResult{}, nil
}
func (f *fakeExchange) CancelOrder(context.Context, string) error    { return nil }
func (f *fakeExchange) CancelOrders(context.Context, []string) error { return nil }

func (f *fakeExchange) MarketPrices(_ context.Context, ids []string) ([]domain.MarketBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ids)
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.MarketBook
	for _, id := range ids {
		if mb, ok := f.books[id]; ok {
			out = append(out, mb)
		}
	}
	return out, nil
}
