package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/whiteboard/backend/internal/db"
	"github.com/manpreetbhatti/whiteboard/backend/internal/metrics"
)

// StatsSource reports store-wide totals
type StatsSource interface {
	Stats(ctx context.Context) (db.Stats, error)
}

type Config struct {
	Interval time.Duration
	// Timeout bounds a single Stats call
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Service periodically copies store totals into the persisted-rooms gauges
type Service struct {
	store  StatsSource
	config Config
	log    zerolog.Logger
	stop   chan struct{}
	wg     sync.WaitGroup

	mu   sync.Mutex
	last db.Stats
}

func New(store StatsSource, config Config, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		config: config,
		log:    logger.With().Str("module", "sampler").Logger(),
		stop:   make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Info().Dur("interval", s.config.Interval).Msg("store sampler started")
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.log.Info().Msg("store sampler stopped")
}

// Last returns the most recent successful sample
func (s *Service) Last() db.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.sample()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Service) sample() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	stats, err := s.store.Stats(ctx)
	if err != nil {
		// keep the previous gauges; a failed sample is not a zero
		s.log.Warn().Err(err).Msg("sampling store stats")
		return
	}

	metrics.StoredTotals(stats.RoomCount, stats.SnapshotCount)

	s.mu.Lock()
	s.last = stats
	s.mu.Unlock()
}
