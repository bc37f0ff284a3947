package crash

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PlayerBet is a single stake in a round. It is mutated at most once, on cashout.
type PlayerBet struct {
	PlayerID      string
	Username      string
	AvatarURL     string
	BetAmount     float64
	AutoCashoutAt *float64
	CashedOutAt   *float64
	Payout        float64
	Auto          bool
	JoinedAt      time.Time
}

func (p *PlayerBet) view() PlayerView {
	v := PlayerView{
		PlayerID:  p.PlayerID,
		Username:  p.Username,
		AvatarURL: p.AvatarURL,
		BetAmount: p.BetAmount,
		Payout:    p.Payout,
		Auto:      p.Auto,
	}
	if p.AutoCashoutAt != nil {
		at := *p.AutoCashoutAt
		v.AutoCashoutAt = &at
	}
	if p.CashedOutAt != nil {
		at := *p.CashedOutAt
		v.CashedOutAt = &at
	}
	return v
}

// Round owns one play of the game. It does no locking of its own; the
// Manager serializes every call.
type Round struct {
	ID                string
	State             RoundState
	ServerSeed        string
	Commitment        string
	CrashMultiplier   float64
	CurrentMultiplier float64
	CreatedAt         time.Time
	BettingEndsAt     time.Time
	StartedAt         time.Time
	CrashedAt         time.Time

	players []*PlayerBet
	index   map[string]*PlayerBet
}

// NewRound commits to a crash point before any bet is taken.
func NewRound(id, serverSeed string, houseEdge float64, now time.Time, bettingTime time.Duration) *Round {
	return &Round{
		ID:                id,
		State:             StateWaiting,
		ServerSeed:        serverSeed,
		Commitment:        HashCommitment(serverSeed),
		CrashMultiplier:   CrashPoint(serverSeed, id, houseEdge),
		CurrentMultiplier: MIN_MULTIPLIER,
		CreatedAt:         now,
		BettingEndsAt:     now.Add(bettingTime),
		index:             make(map[string]*PlayerBet),
	}
}

func (r *Round) Joinable(now time.Time) bool {
	return r.State == StateWaiting && now.Before(r.BettingEndsAt)
}

// BettingClosed reports whether the countdown has elapsed.
func (r *Round) BettingClosed(now time.Time) bool {
	return r.State == StateWaiting && !now.Before(r.BettingEndsAt)
}

func (r *Round) Join(playerID string, req JoinRequest, now time.Time) (*PlayerBet, error) {
	if !r.Joinable(now) {
		return nil, ErrRoundNotJoinable
	}
	bet := &PlayerBet{
		PlayerID:  playerID,
		Username:  req.Username,
		AvatarURL: req.AvatarURL,
		BetAmount: req.BetAmount,
		JoinedAt:  now,
	}
	if req.AutoCashoutAt != nil {
		at := *req.AutoCashoutAt
		bet.AutoCashoutAt = &at
	}
	r.players = append(r.players, bet)
	r.index[playerID] = bet
	return bet, nil
}

func (r *Round) Start(now time.Time) error {
	if r.State != StateWaiting {
		return fmt.Errorf("start from %s: %w", r.State, ErrInvalidTransition)
	}
	r.State = StateRunning
	r.StartedAt = now
	r.CurrentMultiplier = MIN_MULTIPLIER
	return nil
}

// Elapsed returns seconds since the running phase began.
func (r *Round) Elapsed(now time.Time) float64 {
	if r.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(r.StartedAt).Seconds()
}

// LiveMultiplier is the cent-floored curve value at now. It is what ticks
// report and what manual cashouts lock in.
func (r *Round) LiveMultiplier(curve Curve, now time.Time) float64 {
	return FloorCents(curve.MultiplierAt(r.Elapsed(now)))
}

func (r *Round) Player(playerID string) (*PlayerBet, bool) {
	p, ok := r.index[playerID]
	return p, ok
}

func (r *Round) Cashout(playerID string, multiplier float64, auto bool) (*PlayerBet, error) {
	p, ok := r.index[playerID]
	if !ok {
		return nil, ErrUnknownPlayer
	}
	if r.State != StateRunning {
		return nil, ErrRoundNotRunning
	}
	if p.CashedOutAt != nil {
		return nil, ErrAlreadyCashedOut
	}
	if multiplier >= r.CrashMultiplier {
		return nil, ErrRoundNotRunning
	}

	at := multiplier
	p.CashedOutAt = &at
	p.Payout = payout(p.BetAmount, multiplier)
	p.Auto = auto
	return p, nil
}

// DueAutoCashouts lists players whose threshold has been reached at the given
// multiplier, ordered by threshold and then join order. Thresholds at or
// above the crash point never fire.
func (r *Round) DueAutoCashouts(multiplier float64) []*PlayerBet {
	var due []*PlayerBet
	for _, p := range r.players {
		if p.CashedOutAt != nil || p.AutoCashoutAt == nil {
			continue
		}
		at := *p.AutoCashoutAt
		if at <= multiplier && at < r.CrashMultiplier {
			due = append(due, p)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return *due[i].AutoCashoutAt < *due[j].AutoCashoutAt
	})
	return due
}

// Crash freezes the multiplier at the crash point. Players still holding lose their stake.
func (r *Round) Crash(now time.Time) error {
	if r.State != StateRunning {
		return fmt.Errorf("crash from %s: %w", r.State, ErrInvalidTransition)
	}
	r.State = StateCrashed
	r.CurrentMultiplier = r.CrashMultiplier
	r.CrashedAt = now
	for _, p := range r.players {
		if p.CashedOutAt == nil {
			p.Payout = 0
		}
	}
	return nil
}

func (r *Round) Settle() (SettledRound, error) {
	if r.State != StateCrashed {
		return SettledRound{}, fmt.Errorf("settle from %s: %w", r.State, ErrInvalidTransition)
	}
	r.State = StateSettled
	return SettledRound{
		RoundID:         r.ID,
		ServerSeed:      r.ServerSeed,
		Commitment:      r.Commitment,
		CrashMultiplier: r.CrashMultiplier,
		StartedAt:       r.StartedAt,
		CrashedAt:       r.CrashedAt,
		Players:         r.playerViews(),
	}, nil
}

func (r *Round) playerViews() []PlayerView {
	views := make([]PlayerView, 0, len(r.players))
	for _, p := range r.players {
		views = append(views, p.view())
	}
	return views
}

// View projects the round for clients. The seed and crash point are only
// included once the round has crashed.
func (r *Round) View(now time.Time) RoundView {
	v := RoundView{
		RoundID:           r.ID,
		State:             r.State,
		Commitment:        r.Commitment,
		CurrentMultiplier: r.CurrentMultiplier,
		BettingEndsAt:     r.BettingEndsAt,
		Players:           r.playerViews(),
	}
	if !r.StartedAt.IsZero() {
		started := r.StartedAt
		v.StartedAt = &started
		v.Elapsed = r.Elapsed(now)
	}
	if r.State == StateCrashed || r.State == StateSettled {
		crashed := r.CrashedAt
		v.CrashedAt = &crashed
		if !r.StartedAt.IsZero() {
			v.Elapsed = r.CrashedAt.Sub(r.StartedAt).Seconds()
		}
		v.CrashMultiplier = r.CrashMultiplier
		v.ServerSeed = r.ServerSeed
	}
	return v
}

func payout(betAmount, multiplier float64) float64 {
	p, _ := decimal.NewFromFloat(betAmount).
		Mul(decimal.NewFromFloat(multiplier)).
		Round(2).
		Float64()
	return p
}
