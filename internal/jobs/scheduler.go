package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"casino/internal/crash"
	"casino/internal/database"
)

const JOB_TIMEOUT = 30 * time.Second

// ArchiveStore is the slice of the round archive the housekeeping jobs use.
type ArchiveStore interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
	Stats(ctx context.Context, since time.Time) (database.RoundStats, error)
}

type Config struct {
	ArchiveRetention time.Duration
	PruneInterval    time.Duration
	StatsInterval    time.Duration
}

// Scheduler runs periodic housekeeping next to the round manager.
type Scheduler struct {
	sched   gocron.Scheduler
	clock   clockwork.Clock
	cfg     Config
	manager *crash.Manager
	store   ArchiveStore
}

// NewScheduler registers the prune job (only when an archive is configured)
// and the stats job. store may be nil.
func NewScheduler(cfg Config, manager *crash.Manager, store ArchiveStore, clock clockwork.Clock) (*Scheduler, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	sched, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	s := &Scheduler{
		sched:   sched,
		clock:   clock,
		cfg:     cfg,
		manager: manager,
		store:   store,
	}

	if store != nil && cfg.PruneInterval > 0 && cfg.ArchiveRetention > 0 {
		if _, err := sched.NewJob(
			gocron.DurationJob(cfg.PruneInterval),
			gocron.NewTask(s.pruneArchive),
			gocron.WithName("prune-archive"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return nil, fmt.Errorf("register prune job: %w", err)
		}
	}

	if cfg.StatsInterval > 0 {
		if _, err := sched.NewJob(
			gocron.DurationJob(cfg.StatsInterval),
			gocron.NewTask(s.logStats),
			gocron.WithName("round-stats"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return nil, fmt.Errorf("register stats job: %w", err)
		}
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
	log.Printf("[JOBS] Scheduler started with %d jobs", len(s.sched.Jobs()))
}

func (s *Scheduler) Shutdown() error {
	log.Println("[JOBS] Scheduler stopping")
	return s.sched.Shutdown()
}

func (s *Scheduler) JobNames() []string {
	var names []string
	for _, j := range s.sched.Jobs() {
		names = append(names, j.Name())
	}
	return names
}

func (s *Scheduler) pruneArchive() {
	ctx, cancel := context.WithTimeout(context.Background(), JOB_TIMEOUT)
	defer cancel()

	cutoff := s.clock.Now().Add(-s.cfg.ArchiveRetention)
	n, err := s.store.Prune(ctx, cutoff)
	if err != nil {
		log.Printf("[JOBS] Prune failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[JOBS] Pruned %d rounds crashed before %s", n, cutoff.Format(time.RFC3339))
	}
}

func (s *Scheduler) logStats() {
	status := s.manager.Status()

	state := "none"
	if status.Round != nil {
		state = string(status.Round.State)
	}
	log.Printf("[JOBS] Round state=%s subscribers=%d history=%d",
		state, s.manager.SubscriberCount(), len(status.History))

	if err := s.manager.LastError(); err != nil {
		log.Printf("[JOBS] Last halted round: %v", err)
	}

	if s.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), JOB_TIMEOUT)
	defer cancel()

	stats, err := s.store.Stats(ctx, s.clock.Now().Add(-s.cfg.StatsInterval))
	if err != nil {
		log.Printf("[JOBS] Stats query failed: %v", err)
		return
	}
	log.Printf("[JOBS] Last %s: %d rounds, wagered %.2f, paid %.2f",
		s.cfg.StatsInterval, stats.Rounds, stats.Wagered, stats.Paid)
}
