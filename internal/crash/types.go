package crash

import (
	"time"
)

type RoundState string

const (
	StateWaiting RoundState = "waiting"
	StateRunning RoundState = "running"
	StateCrashed RoundState = "crashed"
	StateSettled RoundState = "settled"
)

type JoinRequest struct {
	Username      string   `json:"username"`
	AvatarURL     string   `json:"avatar_url,omitempty"`
	BetAmount     float64  `json:"bet_amount"`
	AutoCashoutAt *float64 `json:"auto_cashout_at,omitempty"`
}

type JoinResult struct {
	PlayerID string `json:"player_id"`
	RoundID  string `json:"round_id"`
}

type CashoutResult struct {
	Multiplier float64 `json:"multiplier"`
	Payout     float64 `json:"payout"`
}

// PlayerView is the public projection of a PlayerBet.
type PlayerView struct {
	PlayerID      string   `json:"player_id"`
	Username      string   `json:"username"`
	AvatarURL     string   `json:"avatar_url,omitempty"`
	BetAmount     float64  `json:"bet_amount"`
	AutoCashoutAt *float64 `json:"auto_cashout_at,omitempty"`
	CashedOutAt   *float64 `json:"cashed_out_at,omitempty"`
	Payout        float64  `json:"payout"`
	Auto          bool     `json:"auto,omitempty"`
}

// RoundView is the read-only projection of a round. ServerSeed and
// CrashMultiplier stay empty until the round has crashed.
type RoundView struct {
	RoundID           string       `json:"round_id"`
	State             RoundState   `json:"state"`
	Commitment        string       `json:"commitment"`
	CurrentMultiplier float64      `json:"current_multiplier"`
	Elapsed           float64      `json:"elapsed"`
	BettingEndsAt     time.Time    `json:"betting_ends_at"`
	StartedAt         *time.Time   `json:"started_at,omitempty"`
	CrashedAt         *time.Time   `json:"crashed_at,omitempty"`
	CrashMultiplier   float64      `json:"crash_multiplier,omitempty"`
	ServerSeed        string       `json:"server_seed,omitempty"`
	Players           []PlayerView `json:"players"`
}

type HistoryEntry struct {
	RoundID         string    `json:"round_id"`
	CrashMultiplier float64   `json:"crash_multiplier"`
	Timestamp       time.Time `json:"timestamp"`
	ServerSeed      string    `json:"server_seed"`
	Commitment      string    `json:"commitment"`
}

type Status struct {
	Round   *RoundView     `json:"round"`
	History []HistoryEntry `json:"history"`
}

// SettledRound is the record handed to archivers once a round is settled.
type SettledRound struct {
	RoundID         string       `json:"round_id"`
	ServerSeed      string       `json:"server_seed"`
	Commitment      string       `json:"commitment"`
	CrashMultiplier float64      `json:"crash_multiplier"`
	StartedAt       time.Time    `json:"started_at"`
	CrashedAt       time.Time    `json:"crashed_at"`
	Players         []PlayerView `json:"players"`
}

func (s SettledRound) HistoryEntry() HistoryEntry {
	return HistoryEntry{
		RoundID:         s.RoundID,
		CrashMultiplier: s.CrashMultiplier,
		Timestamp:       s.CrashedAt,
		ServerSeed:      s.ServerSeed,
		Commitment:      s.Commitment,
	}
}

func (s SettledRound) TotalWagered() float64 {
	var total float64
	for _, p := range s.Players {
		total += p.BetAmount
	}
	return total
}

func (s SettledRound) TotalPaid() float64 {
	var total float64
	for _, p := range s.Players {
		total += p.Payout
	}
	return total
}

type EventType string

const (
	EventSnapshot        EventType = "snapshot"
	EventRoundStart      EventType = "round_start"
	EventPlayerJoined    EventType = "player_joined"
	EventMultiplierTick  EventType = "multiplier_tick"
	EventPlayerCashedOut EventType = "player_cashed_out"
	EventRoundCrash      EventType = "round_crash"
	EventHistoryUpdate   EventType = "history_update"
	EventRoundVoid       EventType = "round_void"
)

type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

func newEvent(t EventType, data interface{}, at time.Time) Event {
	return Event{Type: t, Data: data, Timestamp: at.UnixMilli()}
}

type TickMessage struct {
	RoundID    string     `json:"round_id"`
	State      RoundState `json:"state"`
	Multiplier float64    `json:"multiplier"`
	Elapsed    float64    `json:"elapsed"`
}

type CashoutMessage struct {
	RoundID    string  `json:"round_id"`
	PlayerID   string  `json:"player_id"`
	Username   string  `json:"username"`
	Multiplier float64 `json:"multiplier"`
	Payout     float64 `json:"payout"`
	Auto       bool    `json:"auto"`
}

type CrashMessage struct {
	RoundID         string       `json:"round_id"`
	CrashMultiplier float64      `json:"crash_multiplier"`
	ServerSeed      string       `json:"server_seed"`
	Commitment      string       `json:"commitment"`
	Players         []PlayerView `json:"players"`
}

// VoidMessage announces a round abandoned after an internal failure. Its
// bets are not settled and it never enters history.
type VoidMessage struct {
	RoundID string     `json:"round_id"`
	State   RoundState `json:"state"`
}
