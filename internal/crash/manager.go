package crash

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	TICK_INTERVAL = 100 * time.Millisecond
	BETTING_TIME  = 5 * time.Second
	ROUND_DELAY   = 3 * time.Second
	MIN_BET       = 0.0
	MAX_BET       = 10000.0

	ARCHIVE_QUEUE_SIZE = 64
	ARCHIVE_TIMEOUT    = 5 * time.Second
	WARMUP_TIMEOUT     = 3 * time.Second
)

type Config struct {
	CurveK       float64
	TickInterval time.Duration
	BettingTime  time.Duration
	RoundDelay   time.Duration
	HistorySize  int
	HouseEdge    float64
	MinBet       float64
	MaxBet       float64
}

func DefaultConfig() Config {
	return Config{
		CurveK:       DEFAULT_CURVE_K,
		TickInterval: TICK_INTERVAL,
		BettingTime:  BETTING_TIME,
		RoundDelay:   ROUND_DELAY,
		HistorySize:  DEFAULT_HISTORY_SIZE,
		HouseEdge:    DEFAULT_HOUSE_EDGE,
		MinBet:       MIN_BET,
		MaxBet:       MAX_BET,
	}
}

// Archiver persists settled rounds. Calls happen off the tick loop.
type Archiver interface {
	Archive(ctx context.Context, round SettledRound) error
}

// HistoryLoader returns the most recent settled rounds, newest first.
type HistoryLoader interface {
	RecentHistory(ctx context.Context, limit int) ([]HistoryEntry, error)
}

type Option func(*Manager)

func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithArchiver(a Archiver) Option {
	return func(m *Manager) {
		if a != nil {
			m.archivers = append(m.archivers, a)
		}
	}
}

func WithHistoryLoader(l HistoryLoader) Option {
	return func(m *Manager) { m.loader = l }
}

// WithCrashPointFunc overrides crash point derivation. Used for replays and tests.
func WithCrashPointFunc(fn func(serverSeed, roundID string) float64) Option {
	return func(m *Manager) { m.crashPointFn = fn }
}

// Manager owns the live round, the history log and the event hub. Tick,
// join, cashout and subscribe are serialized by stateMutex, and events are
// published while it is held, so every listener sees rounds in tick order.
type Manager struct {
	cfg          Config
	curve        Curve
	clock        clockwork.Clock
	hub          *Hub
	history      *History
	archivers    []Archiver
	loader       HistoryLoader
	crashPointFn func(serverSeed, roundID string) float64

	stateMutex   sync.Mutex
	currentRound *Round
	nextRoundAt  time.Time
	lastError    error

	archiveChan chan SettledRound
	archiveStop chan struct{}
	cancel      context.CancelFunc
	loopWg      sync.WaitGroup
	archiveWg   sync.WaitGroup
}

func NewManager(cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.BettingTime < 0 {
		cfg.BettingTime = def.BettingTime
	}
	if cfg.RoundDelay < 0 {
		cfg.RoundDelay = def.RoundDelay
	}
	if cfg.HouseEdge < 0 || cfg.HouseEdge >= 1 {
		cfg.HouseEdge = def.HouseEdge
	}

	m := &Manager{
		cfg:         cfg,
		curve:       NewCurve(cfg.CurveK),
		clock:       clockwork.NewRealClock(),
		hub:         NewHub(),
		history:     NewHistory(cfg.HistorySize),
		archiveChan: make(chan SettledRound, ARCHIVE_QUEUE_SIZE),
	}
	m.cfg.CurveK = m.curve.K
	m.cfg.HistorySize = m.history.Capacity()

	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Config() Config {
	return m.cfg
}

func (m *Manager) Curve() Curve {
	return m.curve
}

// Start warms the history, opens the first round and launches the tick loop.
func (m *Manager) Start(ctx context.Context) error {
	m.stateMutex.Lock()
	if m.cancel != nil {
		m.stateMutex.Unlock()
		return errors.New("manager already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	archiveStop := make(chan struct{})
	m.archiveStop = archiveStop
	m.stateMutex.Unlock()

	m.warmHistory(ctx)
	m.Step()

	m.loopWg.Add(1)
	go m.gameLoop(ctx)
	m.archiveWg.Add(1)
	go m.archiveLoop(archiveStop)

	log.Printf("[CRASH] Manager started (tick %s, betting %s, delay %s)",
		m.cfg.TickInterval, m.cfg.BettingTime, m.cfg.RoundDelay)
	return nil
}

// Stop waits for the tick loop to exit, then lets the archive worker drain
// every round settled up to that point.
func (m *Manager) Stop() {
	m.stateMutex.Lock()
	cancel, archiveStop := m.cancel, m.archiveStop
	m.cancel, m.archiveStop = nil, nil
	m.stateMutex.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.loopWg.Wait()

	close(archiveStop)
	m.archiveWg.Wait()
}

func (m *Manager) warmHistory(ctx context.Context) {
	if m.loader == nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, WARMUP_TIMEOUT)
	defer cancel()

	entries, err := m.loader.RecentHistory(wctx, m.history.Capacity())
	if err != nil {
		log.Printf("[CRASH] History warm-up failed: %v", err)
		return
	}
	m.history.Load(entries)
	log.Printf("[CRASH] Loaded %d history entries", len(entries))
}

func (m *Manager) gameLoop(ctx context.Context) {
	defer m.loopWg.Done()

	ticker := m.clock.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[CRASH] Game loop stopped")
			return
		case <-ticker.Chan():
			m.Step()
		}
	}
}

// Step runs one tick of the state machine at the clock's current time.
func (m *Manager) Step() {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	m.stepLocked(m.clock.Now())
}

func (m *Manager) stepLocked(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			m.haltLocked(now, fmt.Errorf("step panic: %v", r))
		}
	}()
	if err := m.advanceLocked(now); err != nil {
		m.haltLocked(now, err)
	}
}

func (m *Manager) advanceLocked(now time.Time) error {
	r := m.currentRound
	if r == nil {
		m.newRoundLocked(now)
		return nil
	}

	switch r.State {
	case StateWaiting:
		if !r.BettingClosed(now) {
			return nil
		}
		if err := r.Start(now); err != nil {
			return err
		}
		log.Printf("[CRASH] Round %s running with %d players", r.ID, len(r.players))
		return m.tickLocked(now)
	case StateRunning:
		return m.tickLocked(now)
	case StateCrashed:
		return m.settleLocked(now)
	case StateSettled:
		if !now.Before(m.nextRoundAt) {
			m.newRoundLocked(now)
		}
	}
	return nil
}

func (m *Manager) tickLocked(now time.Time) error {
	r := m.currentRound

	live := r.LiveMultiplier(m.curve, now)
	if live < r.CurrentMultiplier {
		return fmt.Errorf("round %s multiplier went back from %.2f to %.2f: %w",
			r.ID, r.CurrentMultiplier, live, ErrInvalidTransition)
	}

	crashed := live >= r.CrashMultiplier
	if crashed {
		live = r.CrashMultiplier
	}
	r.CurrentMultiplier = live

	m.publishLocked(EventMultiplierTick, TickMessage{
		RoundID:    r.ID,
		State:      r.State,
		Multiplier: live,
		Elapsed:    r.Elapsed(now),
	}, now)

	// Auto cashouts pay their threshold, not the tick value.
	for _, p := range r.DueAutoCashouts(live) {
		bet, err := r.Cashout(p.PlayerID, *p.AutoCashoutAt, true)
		if err != nil {
			return fmt.Errorf("auto cashout %s: %w", p.PlayerID, err)
		}
		m.publishCashoutLocked(r, bet, now)
	}

	if !crashed {
		return nil
	}

	if err := r.Crash(now); err != nil {
		return err
	}
	log.Printf("[CRASH] Round %s crashed at %.2fx", r.ID, r.CrashMultiplier)

	m.publishLocked(EventRoundCrash, CrashMessage{
		RoundID:         r.ID,
		CrashMultiplier: r.CrashMultiplier,
		ServerSeed:      r.ServerSeed,
		Commitment:      r.Commitment,
		Players:         r.playerViews(),
	}, now)

	return m.settleLocked(now)
}

func (m *Manager) settleLocked(now time.Time) error {
	r := m.currentRound
	settled, err := r.Settle()
	if err != nil {
		return err
	}

	m.history.Push(settled.HistoryEntry())
	m.nextRoundAt = now.Add(m.cfg.RoundDelay)
	m.publishLocked(EventHistoryUpdate, m.history.List(), now)
	m.enqueueArchive(settled)

	var lost int
	for _, p := range settled.Players {
		if p.CashedOutAt == nil {
			lost++
		}
	}
	log.Printf("[CRASH] Round %s settled (%d players, %d lost)", r.ID, len(settled.Players), lost)
	return nil
}

func (m *Manager) newRoundLocked(now time.Time) {
	id := uuid.NewString()
	seed := GenerateSeed()

	r := NewRound(id, seed, m.cfg.HouseEdge, now, m.cfg.BettingTime)
	if m.crashPointFn != nil {
		r.CrashMultiplier = m.crashPointFn(seed, id)
	}
	m.currentRound = r

	log.Printf("[CRASH] === ROUND %s ===", id)
	log.Printf("[FAIR] Commitment: %s...", r.Commitment[:16])

	m.publishLocked(EventRoundStart, r.View(now), now)
}

// haltLocked voids the current round after an internal failure. The round
// is not recorded in history and a fresh one follows after the usual delay.
func (m *Manager) haltLocked(now time.Time, err error) {
	m.lastError = err
	m.nextRoundAt = now.Add(m.cfg.RoundDelay)

	r := m.currentRound
	if r == nil {
		log.Printf("[CRASH] Step halted: %v", err)
		return
	}
	r.State = StateSettled
	if r.CrashedAt.IsZero() {
		r.CrashedAt = now
	}
	log.Printf("[CRASH] Round %s halted: %v", r.ID, err)

	m.publishLocked(EventRoundVoid, VoidMessage{RoundID: r.ID, State: r.State}, now)
}

func (m *Manager) publishLocked(t EventType, data interface{}, now time.Time) {
	m.hub.Publish(newEvent(t, data, now))
}

func (m *Manager) publishCashoutLocked(r *Round, bet *PlayerBet, now time.Time) {
	m.publishLocked(EventPlayerCashedOut, CashoutMessage{
		RoundID:    r.ID,
		PlayerID:   bet.PlayerID,
		Username:   bet.Username,
		Multiplier: *bet.CashedOutAt,
		Payout:     bet.Payout,
		Auto:       bet.Auto,
	}, now)
	log.Printf("[CASHOUT] %s cashed out at %.2fx (payout %.2f, auto %t)",
		bet.Username, *bet.CashedOutAt, bet.Payout, bet.Auto)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (m *Manager) validateJoin(req JoinRequest) error {
	if !isFinite(req.BetAmount) || req.BetAmount <= 0 || req.BetAmount < m.cfg.MinBet {
		return ErrInvalidBet
	}
	if m.cfg.MaxBet > 0 && req.BetAmount > m.cfg.MaxBet {
		return ErrInvalidBet
	}
	if at := req.AutoCashoutAt; at != nil && (!isFinite(*at) || *at <= MIN_MULTIPLIER) {
		return ErrInvalidAutoCashout
	}
	return nil
}

// Join adds a bet to the round in its betting phase.
func (m *Manager) Join(req JoinRequest) (JoinResult, error) {
	if err := m.validateJoin(req); err != nil {
		return JoinResult{}, err
	}

	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()

	now := m.clock.Now()
	r := m.currentRound
	if r == nil {
		return JoinResult{}, ErrRoundNotJoinable
	}

	bet, err := r.Join(uuid.NewString(), req, now)
	if err != nil {
		return JoinResult{}, err
	}

	m.publishLocked(EventPlayerJoined, bet.view(), now)
	log.Printf("[BET] %s joined round %s with %.2f", bet.Username, r.ID, bet.BetAmount)

	return JoinResult{PlayerID: bet.PlayerID, RoundID: r.ID}, nil
}

// Cashout locks in the live multiplier at the instant of the call. If the
// curve has already reached the crash point the crash is committed first and
// the cashout is refused.
func (m *Manager) Cashout(playerID string) (CashoutResult, error) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()

	now := m.clock.Now()
	r := m.currentRound
	if r == nil {
		return CashoutResult{}, ErrUnknownPlayer
	}
	if _, ok := r.Player(playerID); !ok {
		return CashoutResult{}, ErrUnknownPlayer
	}

	live := r.CurrentMultiplier
	if r.State == StateRunning {
		if v := r.LiveMultiplier(m.curve, now); v > live {
			live = v
		}
		if live >= r.CrashMultiplier {
			m.stepLocked(now)
			return CashoutResult{}, ErrRoundNotRunning
		}
	}

	bet, err := r.Cashout(playerID, live, false)
	if err != nil {
		return CashoutResult{}, err
	}
	m.publishCashoutLocked(r, bet, now)

	return CashoutResult{Multiplier: *bet.CashedOutAt, Payout: bet.Payout}, nil
}

func (m *Manager) statusLocked(now time.Time) Status {
	s := Status{History: m.history.List()}
	if m.currentRound != nil {
		v := m.currentRound.View(now)
		s.Round = &v
	}
	return s
}

// Status never fails. Round is nil until the first round is created.
func (m *Manager) Status() Status {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	return m.statusLocked(m.clock.Now())
}

func (m *Manager) CurrentRound() *RoundView {
	return m.Status().Round
}

func (m *Manager) History() []HistoryEntry {
	return m.history.List()
}

func (m *Manager) FindHistory(roundID string) (HistoryEntry, bool) {
	return m.history.Find(roundID)
}

// Subscribe delivers a snapshot of the current status to l and registers it
// for live events in one step, so nothing is missed or repeated in between.
// The listener must not call back into the Manager.
func (m *Manager) Subscribe(name string, l Listener) (func(), error) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()

	now := m.clock.Now()
	if err := deliver(l, newEvent(EventSnapshot, m.statusLocked(now), now)); err != nil {
		return func() {}, err
	}
	return m.hub.Subscribe(name, l), nil
}

func (m *Manager) SubscriberCount() int {
	return m.hub.GetClientCount()
}

// LastError returns the most recent internal failure that halted a round.
func (m *Manager) LastError() error {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	return m.lastError
}

func (m *Manager) enqueueArchive(round SettledRound) {
	if len(m.archivers) == 0 {
		return
	}
	select {
	case m.archiveChan <- round:
	default:
		log.Printf("[CRASH] Archive queue full, dropping round %s", round.RoundID)
	}
}

func (m *Manager) archiveLoop(stop <-chan struct{}) {
	defer m.archiveWg.Done()

	for {
		select {
		case round := <-m.archiveChan:
			m.archive(round)
		case <-stop:
			for {
				select {
				case round := <-m.archiveChan:
					m.archive(round)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) archive(round SettledRound) {
	for _, a := range m.archivers {
		ctx, cancel := context.WithTimeout(context.Background(), ARCHIVE_TIMEOUT)
		if err := a.Archive(ctx, round); err != nil {
			log.Printf("[CRASH] Archive of round %s failed: %v", round.RoundID, err)
		}
		cancel()
	}
}
