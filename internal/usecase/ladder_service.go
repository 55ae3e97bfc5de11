package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitos/crypto_trade_ladder/internal/domain"
	"github.com/vitos/crypto_trade_ladder/internal/metrics"
	"go.uber.org/zap"
)

var (
	ErrAlreadyRunning = errors.New("ladder bot already running")
	ErrUnknownSymbol  = errors.New("symbol not configured")
)

// Status is the latest published view of every symbol.
type Status struct {
	Running   bool                    `json:"running"`
	Balance   float64                 `json:"balance"`
	Symbols   []domain.StatusSnapshot `json:"symbols"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// LadderService runs every configured symbol sequentially on one background
// loop. Symbol state is only touched by that loop, or by direct RunCycle
// calls while the loop is not running.
type LadderService struct {
	settings Settings
	gateway  domain.Gateway
	repo     domain.TradeRepository
	logger   *zap.Logger
	clock    Clock
	events   *EventLog
	report   reporter

	sizer    *OrderSizer
	machines map[string]*SymbolMachine

	mu        sync.Mutex
	running   bool
	stopChan  chan struct{}
	stopOnce  *sync.Once
	done      chan struct{}
	paused    map[string]bool
	stopping  atomic.Bool
	emergency atomic.Bool

	statusMu   sync.RWMutex
	status     Status
	lastReport time.Time
}

func NewLadderService(settings Settings, gateway domain.Gateway, repo domain.TradeRepository, logger *zap.Logger, clock Clock, events *EventLog) *LadderService {
	if clock == nil {
		clock = RealClock()
	}
	if events == nil {
		events = NewEventLog(0, clock)
	}
	settings.Timings = settings.Timings.withDefaults()

	s := &LadderService{
		settings: settings,
		gateway:  gateway,
		repo:     repo,
		logger:   logger,
		clock:    clock,
		events:   events,
		report:   reporter{logger: logger, events: events},
		machines: make(map[string]*SymbolMachine, len(settings.Symbols)),
		paused:   make(map[string]bool),
	}
	s.sizer = NewOrderSizer(settings.Levels, len(settings.Symbols), gateway, logger)
	executor := NewTradeExecutor(gateway, repo, clock, logger)
	for _, sym := range settings.Symbols {
		s.machines[sym] = newSymbolMachine(sym, settings, gateway, s.sizer, executor, repo, clock, s.report)
	}
	return s
}

func (s *LadderService) Events() <-chan Event { return s.events.Events() }

func (s *LadderService) Levels() domain.LevelTable { return s.settings.Levels }

// State exposes a symbol's state. Only safe while the loop is not running.
func (s *LadderService) State(symbol string) (*SymbolState, bool) {
	m, ok := s.machines[symbol]
	if !ok {
		return nil, false
	}
	return m.State(), true
}

func (s *LadderService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Snapshot returns the status published at the end of the last cycle.
func (s *LadderService) Snapshot() Status {
	s.statusMu.RLock()
	st := s.status
	st.Symbols = append([]domain.StatusSnapshot(nil), s.status.Symbols...)
	s.statusMu.RUnlock()
	st.Running = s.Running()
	return st
}

// Start validates the configuration against the exchange and launches the
// trading loop. Any error here means the loop never started.
func (s *LadderService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.mu.Unlock()

	if err := ValidateSettings(s.settings); err != nil {
		return err
	}
	balance, err := s.gateway.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("account check failed: %w", err)
	}
	for _, sym := range s.settings.Symbols {
		if _, err := s.sizer.Metadata(ctx, sym); err != nil {
			return fmt.Errorf("symbol %s: %w", sym, err)
		}
	}
	for _, sym := range s.settings.Symbols {
		if err := s.gateway.SetLeverage(ctx, sym, s.settings.Leverage); err != nil {
			s.report.warn(sym, err, "Failed to set leverage %dx", s.settings.Leverage)
		} else {
			s.report.info(sym, "Leverage set to %dx", s.settings.Leverage)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.stopping.Store(false)
	s.emergency.Store(false)
	s.stopChan = make(chan struct{})
	s.stopOnce = &sync.Once{}
	s.done = make(chan struct{})
	s.lastReport = time.Time{}

	s.report.info("", "Trading started: %s, balance %.2f, leverage %dx, take profit %.2f%%, stop activation level %d",
		strings.Join(s.settings.Symbols, ", "), balance, s.settings.Leverage, s.settings.TakeProfitPercent, s.settings.StopActivationLevel)

	go s.run(context.WithoutCancel(ctx), s.stopChan, s.done)
	return nil
}

// Stop asks the loop to exit. It returns immediately; in-flight exchange
// calls finish first.
func (s *LadderService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestStopLocked()
}

func (s *LadderService) requestStopLocked() {
	s.stopping.Store(true)
	if s.running && s.stopOnce != nil {
		s.stopOnce.Do(func() { close(s.stopChan) })
	}
}

// Wait blocks until the loop has exited.
func (s *LadderService) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// EmergencyStop cancels every open order and closes every long at market,
// then stops. While the loop runs, the work is done on the loop goroutine and
// this call waits for it.
func (s *LadderService) EmergencyStop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.stopping.Store(true)
		s.mu.Unlock()
		s.closeAll(ctx)
		return nil
	}
	s.emergency.Store(true)
	s.requestStopLocked()
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *LadderService) closeAll(ctx context.Context) {
	s.report.warn("", nil, "Emergency stop: cancelling all orders and closing all positions")
	for _, sym := range s.settings.Symbols {
		s.machines[sym].emergencyClose(ctx)
		_ = sleep(ctx, s.clock, s.settings.Timings.EmergencyPause)
	}
	s.statusMu.RLock()
	balance := s.status.Balance
	s.statusMu.RUnlock()
	s.publish(balance)
	s.report.info("", "Emergency stop complete")
}

// SetSymbolActive pauses or resumes a symbol. It takes effect on the next
// visit of the loop.
func (s *LadderService) SetSymbolActive(symbol string, active bool) error {
	if _, ok := s.machines[symbol]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	s.mu.Lock()
	s.paused[symbol] = !active
	s.mu.Unlock()
	return nil
}

func (s *LadderService) isPaused(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused[symbol]
}

func (s *LadderService) run(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	for !s.stopping.Load() {
		balance, ok := s.safeCycle(ctx)
		if !ok {
			if !s.wait(stop, s.settings.Timings.FatalBackoff) {
				break
			}
			continue
		}
		if s.stopping.Load() {
			break
		}
		s.maybeReport(ctx, balance)
		if !s.wait(stop, s.settings.Timings.CycleInterval) {
			break
		}
	}

	if s.emergency.Load() {
		s.closeAll(ctx)
	}
	s.report.info("", "Trading stopped")
}

// wait returns false when stop was requested during the wait.
func (s *LadderService) wait(stop <-chan struct{}, d time.Duration) bool {
	select {
	case <-s.clock.After(d):
		return !s.stopping.Load()
	case <-stop:
		return false
	}
}

func (s *LadderService) safeCycle(ctx context.Context) (balance float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.report.error("", fmt.Errorf("panic: %v", r), "Trading loop failed, retrying in %s", s.settings.Timings.FatalBackoff)
			ok = false
		}
	}()
	return s.RunCycle(ctx), true
}

// RunCycle processes every active symbol once and returns the balance used.
func (s *LadderService) RunCycle(ctx context.Context) float64 {
	start := s.clock.Now()
	defer func() { metrics.ObserveCycle(s.clock.Now().Sub(start).Seconds()) }()

	balance, err := s.gateway.FetchBalance(ctx)
	if err != nil {
		s.report.warn("", err, "Failed to fetch balance, using 0 for this cycle")
		balance = 0
	}
	metrics.SetBalance(balance)

	for i, sym := range s.settings.Symbols {
		if s.stopping.Load() {
			break
		}
		m := s.machines[sym]
		m.state.IsActive = !s.isPaused(sym)
		if !m.state.IsActive {
			continue
		}
		if err := m.Process(ctx, balance); err != nil {
			metrics.IncPollError(sym)
			s.report.warn(sym, err, "Poll failed, skipping this cycle")
		}
		if i < len(s.settings.Symbols)-1 {
			_ = sleep(ctx, s.clock, s.settings.Timings.SymbolPause)
		}
	}

	s.publish(balance)
	return balance
}

func (s *LadderService) publish(balance float64) {
	now := s.clock.Now()
	snaps := make([]domain.StatusSnapshot, 0, len(s.settings.Symbols))
	for _, sym := range s.settings.Symbols {
		snaps = append(snaps, s.machines[sym].state.Snapshot(now))
	}
	s.statusMu.Lock()
	s.status = Status{Balance: balance, Symbols: snaps, UpdatedAt: now}
	s.statusMu.Unlock()
}

func (s *LadderService) maybeReport(ctx context.Context, balance float64) {
	now := s.clock.Now()
	if now.Sub(s.lastReport) < s.settings.Timings.StatusInterval {
		return
	}
	s.lastReport = now
	s.ReportStatus(ctx, balance)
}

// ReportStatus logs and journals the last published snapshot.
func (s *LadderService) ReportStatus(ctx context.Context, balance float64) {
	snap := s.Snapshot()
	s.report.info("", "===== Status: balance %.2f =====", balance)
	for _, st := range snap.Symbols {
		line := fmt.Sprintf("price %s, %s", FormatPrice(st.Price), st.Phase)
		if !st.Active {
			line += " (paused)"
		}
		if p := st.Position; p != nil {
			line += fmt.Sprintf(", long %g @ %s, pnl %.2f, level %d", p.Amount, FormatPrice(p.EntryPrice), p.UnrealizedPnL, st.ActiveLevel)
		} else {
			line += ", no position"
		}
		if st.ExitKind != "" {
			line += fmt.Sprintf(", exit %s %s", st.ExitKind, FormatPrice(st.ExitPrice))
		}
		if st.StopActivated {
			line += ", stop active"
		}
		line += fmt.Sprintf(", %d open orders", st.OpenOrders)
		if st.CooldownRemaining > 0 {
			line += fmt.Sprintf(", cooldown %.0fs", st.CooldownRemaining.Seconds())
		}
		s.report.info(st.Symbol, "%s", line)
	}
	if s.repo != nil {
		if err := s.repo.SaveStatusSnapshots(ctx, balance, snap.Symbols); err != nil {
			s.logger.Error("Failed to save status snapshots", zap.Error(err))
		}
	}
}

// ValidateSettings rejects configurations the engine cannot run with.
func ValidateSettings(st Settings) error {
	var errs []error
	if len(st.Symbols) == 0 {
		errs = append(errs, errors.New("at least one symbol is required"))
	}
	if st.Leverage <= 0 {
		errs = append(errs, fmt.Errorf("leverage must be positive, got %d", st.Leverage))
	}
	if st.TakeProfitPercent <= 0 {
		errs = append(errs, fmt.Errorf("take profit percent must be positive, got %v", st.TakeProfitPercent))
	}
	if st.StopActivationLevel < 1 || st.StopActivationLevel > LevelCount {
		errs = append(errs, fmt.Errorf("stop activation level must be 1..%d, got %d", LevelCount, st.StopActivationLevel))
	}
	if len(st.Levels) != LevelCount {
		errs = append(errs, fmt.Errorf("level table must have %d levels, got %d", LevelCount, len(st.Levels)))
	}
	return errors.Join(errs...)
}
