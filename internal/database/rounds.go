package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"casino/internal/crash"
)

// RoundStore archives settled rounds and their bets in PostgreSQL.
type RoundStore struct {
	db *sql.DB
}

func NewRoundStore(db *sql.DB) *RoundStore {
	return &RoundStore{db: db}
}

// RoundStats aggregates the archive over a time window.
type RoundStats struct {
	Rounds  int64   `json:"rounds"`
	Wagered float64 `json:"wagered"`
	Paid    float64 `json:"paid"`
}

// Archive writes the round and its bets. Re-archiving a round is a no-op.
func (s *RoundStore) Archive(ctx context.Context, round crash.SettledRound) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO crash_rounds
			(round_id, server_seed, commitment, crash_multiplier, total_wagered, total_paid, started_at, crashed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (round_id) DO NOTHING`,
		round.RoundID, round.ServerSeed, round.Commitment, round.CrashMultiplier,
		round.TotalWagered(), round.TotalPaid(), round.StartedAt, round.CrashedAt,
	)
	if err != nil {
		return fmt.Errorf("insert round %s: %w", round.RoundID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	for i, p := range round.Players {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO crash_bets
				(round_id, player_id, username, avatar_url, bet_amount, auto_cashout_at, cashed_out_at, payout, auto, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			round.RoundID, p.PlayerID, p.Username, p.AvatarURL, p.BetAmount,
			nullFloat(p.AutoCashoutAt), nullFloat(p.CashedOutAt), p.Payout, p.Auto, i,
		)
		if err != nil {
			return fmt.Errorf("insert bet %s: %w", p.PlayerID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit round %s: %w", round.RoundID, err)
	}
	return nil
}

func (s *RoundStore) FindRound(ctx context.Context, roundID string) (crash.SettledRound, error) {
	round := crash.SettledRound{RoundID: roundID}

	err := s.db.QueryRowContext(ctx, `
		SELECT server_seed, commitment, crash_multiplier::float8, started_at, crashed_at
		FROM crash_rounds WHERE round_id::text = $1`, roundID,
	).Scan(&round.ServerSeed, &round.Commitment, &round.CrashMultiplier, &round.StartedAt, &round.CrashedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return crash.SettledRound{}, crash.ErrRoundNotFound
	}
	if err != nil {
		return crash.SettledRound{}, fmt.Errorf("find round %s: %w", roundID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT player_id::text, username, avatar_url, bet_amount::float8,
			auto_cashout_at::float8, cashed_out_at::float8, payout::float8, auto
		FROM crash_bets WHERE round_id::text = $1 ORDER BY position`, roundID)
	if err != nil {
		return crash.SettledRound{}, fmt.Errorf("load bets for %s: %w", roundID, err)
	}
	defer rows.Close()

	round.Players = []crash.PlayerView{}
	for rows.Next() {
		var (
			p              crash.PlayerView
			autoAt, cashAt sql.NullFloat64
		)
		if err := rows.Scan(&p.PlayerID, &p.Username, &p.AvatarURL, &p.BetAmount,
			&autoAt, &cashAt, &p.Payout, &p.Auto); err != nil {
			return crash.SettledRound{}, fmt.Errorf("scan bet: %w", err)
		}
		p.AutoCashoutAt = floatPtr(autoAt)
		p.CashedOutAt = floatPtr(cashAt)
		round.Players = append(round.Players, p)
	}
	return round, rows.Err()
}

// RecentHistory returns the newest archived rounds first.
func (s *RoundStore) RecentHistory(ctx context.Context, limit int) ([]crash.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT round_id::text, crash_multiplier::float8, crashed_at, server_seed, commitment
		FROM crash_rounds ORDER BY crashed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := []crash.HistoryEntry{}
	for rows.Next() {
		var e crash.HistoryEntry
		if err := rows.Scan(&e.RoundID, &e.CrashMultiplier, &e.Timestamp, &e.ServerSeed, &e.Commitment); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes rounds that crashed before the cutoff. Bets go with them.
func (s *RoundStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM crash_rounds WHERE crashed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune rounds: %w", err)
	}
	return res.RowsAffected()
}

func (s *RoundStore) Stats(ctx context.Context, since time.Time) (RoundStats, error) {
	var stats RoundStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_wagered), 0)::float8, COALESCE(SUM(total_paid), 0)::float8
		FROM crash_rounds WHERE crashed_at >= $1`, since,
	).Scan(&stats.Rounds, &stats.Wagered, &stats.Paid)
	if err != nil {
		return RoundStats{}, fmt.Errorf("round stats: %w", err)
	}
	return stats, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
