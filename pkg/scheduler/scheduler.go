package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/jobkit/pkg/cron"
	"github.com/dmitrymomot/jobkit/pkg/kvstore"
)

const (
	schedKeyPrefix = "schedule:"
	casRetries     = 5
	listPageSize   = 200
)

func schedKey(name string) string {
	return schedKeyPrefix + name
}

// entry is the process-local half of a schedule: the parsed expression and
// the handler, which cannot be persisted.
type entry struct {
	expr    *cron.Expression
	handler Handler
}

// Scheduler runs recurring triggers described by cron expressions. Schedule
// state (next run, run count, enabled flag) is persisted in the store and
// survives restarts; handlers are registered anew by each process.
//
// A schedule is either armed or not; execution is a momentary side effect,
// not a state. A failing or panicking handler is logged and never stops the
// loop or affects other schedules.
type Scheduler struct {
	store    kvstore.Store
	interval time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	lifecycle sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	loopDone  chan struct{}
}

// New creates a scheduler on top of the given store.
func New(store kvstore.Store, opts ...Option) (*Scheduler, error) {
	if store == nil {
		return nil, ErrStoreNil
	}

	options := &options{
		checkInterval: time.Minute,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		store:    store,
		interval: options.checkInterval,
		logger:   options.logger,
		entries:  make(map[string]*entry),
	}, nil
}

// Schedule registers or replaces a recurring trigger. The cron expression is
// validated here, including a satisfiability check, so a schedule that could
// never fire is rejected at registration rather than discovered at runtime.
// Replacing a schedule keeps its run history (run count, last run) but
// recomputes the next run from the new expression.
func (s *Scheduler) Schedule(ctx context.Context, name, cronExpr string, handler Handler, opts ...ScheduleOption) (*Schedule, error) {
	if name == "" {
		return nil, ErrNameRequired
	}
	if handler == nil {
		return nil, ErrHandlerNil
	}

	options := &scheduleOptions{}
	for _, opt := range opts {
		opt(options)
	}

	expr, err := cron.Parse(cronExpr)
	if err != nil {
		return nil, errors.Join(ErrInvalidCron, err)
	}
	next, err := expr.Next(time.Now())
	if err != nil {
		return nil, errors.Join(ErrInvalidCron, err)
	}

	record := &Schedule{
		Name:    name,
		Cron:    cronExpr,
		Enabled: !options.disabled,
	}
	if existing, err := s.load(ctx, name); err == nil {
		record.RunCount = existing.RunCount
		record.LastRun = existing.LastRun
	}
	if record.Enabled {
		record.NextRun = &next
	}

	if err := s.save(ctx, record); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.entries[name] = &entry{expr: expr, handler: handler}
	s.mu.Unlock()

	s.logger.Info("registered schedule",
		slog.String("schedule", name),
		slog.String("cron", cronExpr),
		slog.Bool("enabled", record.Enabled))
	return record, nil
}

// Unschedule removes a schedule and its persisted state entirely. Returns
// ErrScheduleNotFound when the name is neither registered in this process
// nor persisted in the store.
func (s *Scheduler) Unschedule(ctx context.Context, name string) error {
	s.mu.Lock()
	_, known := s.entries[name]
	delete(s.entries, name)
	s.mu.Unlock()

	// Deleting a missing key is not an error at the store level, so absence
	// has to be established before the delete.
	if !known {
		if _, err := s.load(ctx, name); err != nil {
			return err
		}
	}

	if err := s.store.Delete(ctx, schedKey(name)); err != nil {
		return fmt.Errorf("unschedule %s: %w", name, err)
	}

	s.logger.Info("removed schedule", slog.String("schedule", name))
	return nil
}

// Enable arms a schedule. The previously computed next run is kept when it
// still lies in the future; otherwise it is recomputed from now.
func (s *Scheduler) Enable(ctx context.Context, name string) (*Schedule, error) {
	ent, err := s.entry(name)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, name, func(sc *Schedule) error {
		sc.Enabled = true
		now := time.Now()
		if sc.NextRun == nil || !sc.NextRun.After(now) {
			next, err := ent.expr.Next(now)
			if err != nil {
				return errors.Join(ErrInvalidCron, err)
			}
			sc.NextRun = &next
		}
		return nil
	})
}

// Disable disarms a schedule without unregistering it. The next-run value is
// kept so re-enabling can resume it if it is still in the future.
func (s *Scheduler) Disable(ctx context.Context, name string) (*Schedule, error) {
	if _, err := s.entry(name); err != nil {
		return nil, err
	}
	return s.mutate(ctx, name, func(sc *Schedule) error {
		sc.Enabled = false
		return nil
	})
}

// Trigger invokes the handler immediately, regardless of the enabled flag or
// the next scheduled run, and waits for it to finish. The run is recorded
// like a scheduled one: run count and last run always update, and the next
// run is recomputed from now when the schedule is enabled. The handler's
// error, if any, is returned after the bookkeeping is done.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	ent, err := s.entry(name)
	if err != nil {
		return err
	}
	return s.fire(ctx, name, ent)
}

// GetSchedule returns a snapshot of one schedule's persisted state.
func (s *Scheduler) GetSchedule(ctx context.Context, name string) (*Schedule, error) {
	return s.load(ctx, name)
}

// Schedules returns a snapshot of all persisted schedules in name order.
func (s *Scheduler) Schedules(ctx context.Context) ([]Schedule, error) {
	var schedules []Schedule
	cursor := ""
	for {
		entries, next, err := s.store.List(ctx, schedKeyPrefix, cursor, listPageSize)
		if err != nil {
			return nil, fmt.Errorf("list schedules: %w", err)
		}
		for _, e := range entries {
			var sc Schedule
			if err := json.Unmarshal(e.Value, &sc); err != nil {
				continue
			}
			schedules = append(schedules, sc)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return schedules, nil
}

// Start begins the scheduling loop in the background. The first check runs
// immediately; subsequent checks follow the configured interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.loopDone = make(chan struct{})

	go s.run()

	s.logger.Info("scheduler started", slog.Duration("check_interval", s.interval))
	return nil
}

// Stop halts the scheduling loop. A handler invocation in progress is
// allowed to finish.
func (s *Scheduler) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.cancel == nil {
		return ErrNotStarted
	}
	s.cancel()
	s.cancel = nil
	<-s.loopDone

	s.logger.Info("scheduler stopped")
	return nil
}

// Run starts the scheduler and returns a function suitable for errgroup.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		if err := s.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return s.Stop()
	}
}

func (s *Scheduler) run() {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.checkDue()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkDue()
		}
	}
}

// checkDue fires every registered schedule whose persisted next run has
// passed. Schedules are checked sequentially; a handler error or panic is
// contained to its own schedule.
func (s *Scheduler) checkDue() {
	s.mu.RLock()
	snapshot := make(map[string]*entry, len(s.entries))
	for name, ent := range s.entries {
		snapshot[name] = ent
	}
	s.mu.RUnlock()

	now := time.Now()
	for name, ent := range snapshot {
		if s.ctx.Err() != nil {
			return
		}
		record, err := s.load(s.ctx, name)
		if err != nil {
			continue // unregistered concurrently
		}
		if !record.Due(now) {
			continue
		}
		if err := s.fire(s.ctx, name, ent); err != nil {
			s.logger.Error("scheduled run failed",
				slog.String("schedule", name),
				slog.String("error", err.Error()))
		}
	}
}

// fire executes one run: handler first, bookkeeping second. The next run is
// always computed from the current time, never from the stale previous
// value, so a schedule that was paused for a long time does not fire
// repeatedly to catch up.
func (s *Scheduler) fire(ctx context.Context, name string, ent *entry) error {
	start := time.Now()
	runErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in schedule handler: %v", r)
			}
		}()
		return ent.handler(ctx)
	}()

	now := time.Now()
	if _, err := s.mutate(ctx, name, func(sc *Schedule) error {
		sc.RunCount++
		sc.LastRun = &now
		if sc.Enabled {
			next, err := ent.expr.Next(now)
			if err != nil {
				return errors.Join(ErrInvalidCron, err)
			}
			sc.NextRun = &next
		}
		return nil
	}); err != nil {
		s.logger.Error("failed to record schedule run",
			slog.String("schedule", name),
			slog.String("error", err.Error()))
	}

	if runErr != nil {
		s.logger.Error("schedule handler failed",
			slog.String("schedule", name),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", runErr.Error()))
		return runErr
	}

	s.logger.Debug("schedule fired",
		slog.String("schedule", name),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (s *Scheduler) entry(name string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ent, ok := s.entries[name]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return ent, nil
}

func (s *Scheduler) load(ctx context.Context, name string) (*Schedule, error) {
	sc, _, err := s.loadVersioned(ctx, name)
	return sc, err
}

func (s *Scheduler) loadVersioned(ctx context.Context, name string) (*Schedule, kvstore.Version, error) {
	value, ver, err := s.store.Get(ctx, schedKey(name))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, 0, ErrScheduleNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load schedule %s: %w", name, err)
	}
	var sc Schedule
	if err := json.Unmarshal(value, &sc); err != nil {
		return nil, 0, fmt.Errorf("decode schedule %s: %w", name, err)
	}
	return &sc, ver, nil
}

func (s *Scheduler) save(ctx context.Context, sc *Schedule) error {
	value, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode schedule %s: %w", sc.Name, err)
	}
	if err := s.store.Set(ctx, schedKey(sc.Name), value); err != nil {
		return fmt.Errorf("save schedule %s: %w", sc.Name, err)
	}
	return nil
}

// mutate applies fn to a freshly loaded schedule record under an optimistic
// version check, retrying on conflict. Conflicts only occur when several
// scheduler processes share one store.
func (s *Scheduler) mutate(ctx context.Context, name string, fn func(*Schedule) error) (*Schedule, error) {
	for range casRetries {
		sc, ver, err := s.loadVersioned(ctx, name)
		if err != nil {
			return nil, err
		}
		if err := fn(sc); err != nil {
			return nil, err
		}

		value, err := json.Marshal(sc)
		if err != nil {
			return nil, fmt.Errorf("encode schedule %s: %w", name, err)
		}
		err = s.store.Atomic(ctx, kvstore.Transaction{
			Checks: []kvstore.Check{{Key: schedKey(name), Version: ver}},
			Writes: []kvstore.Write{{Key: schedKey(name), Value: value}},
		})
		if errors.Is(err, kvstore.ErrTxnConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update schedule %s: %w", name, err)
		}
		return sc, nil
	}
	return nil, kvstore.ErrTxnConflict
}
