package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/privtrain/privtrain/internal/utils/contextutil"
	"github.com/privtrain/privtrain/pkg/logger"
)

type Config struct {
	TargetURL    string
	WorkerName   string
	BaseInterval time.Duration
	MaxBackoff   time.Duration
	MaxFailures  int
}

type Payload struct {
	Worker    string    `json:"worker"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	UptimeSec float64   `json:"uptime_sec"`
}

// Service reports worker liveness to a monitor endpoint. Consecutive
// failures stretch the interval (doubling, capped); a success snaps it
// back to the base interval. Heartbeat loss is advisory only; the run's
// failure policy lives with the driver, not here.
type Service struct {
	config              Config
	scheduler           *gocron.Scheduler
	mu                  sync.Mutex
	started             bool
	startTime           time.Time
	consecutiveFailures int
}

func NewService(config Config) *Service {
	if config.BaseInterval == 0 {
		config.BaseInterval = 30 * time.Second
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 5 * time.Minute
	}
	if config.MaxFailures == 0 {
		config.MaxFailures = 5
	}
	return &Service{
		config:    config,
		scheduler: gocron.NewScheduler(time.UTC),
		startTime: time.Now(),
	}
}

func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.config.TargetURL == "" {
		return fmt.Errorf("heartbeat target URL not configured")
	}

	if _, err := s.scheduler.Every(s.config.BaseInterval).Do(s.beat); err != nil {
		return fmt.Errorf("scheduling heartbeat failed: %w", err)
	}
	s.scheduler.StartAsync()
	s.started = true
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.scheduler.Stop()
	s.started = false
}

func (s *Service) beat() {
	log := logger.WithComponent("heartbeat").With().Str("worker", s.config.WorkerName).Logger()

	payload := Payload{
		Worker:    s.config.WorkerName,
		Status:    "alive",
		Timestamp: time.Now().UTC(),
		UptimeSec: time.Since(s.startTime).Seconds(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Heartbeat marshal failed")
		return
	}

	ctx, cancel := contextutil.WithCustomTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.TargetURL, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Msg("Heartbeat request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		s.recordFailure()
		log.Warn().Err(err).Int("consecutive_failures", s.failures()).Msg("Heartbeat delivery failed")
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		s.recordFailure()
		log.Warn().Int("status", resp.StatusCode).Int("consecutive_failures", s.failures()).Msg("Heartbeat rejected")
		return
	}

	s.mu.Lock()
	if s.consecutiveFailures > 0 {
		s.consecutiveFailures = 0
		s.reschedule(s.config.BaseInterval)
	}
	s.mu.Unlock()
	log.Debug().Msg("Heartbeat sent")
}

func (s *Service) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures++
	if s.consecutiveFailures < s.config.MaxFailures {
		return
	}
	backoff := s.config.BaseInterval << uint(s.consecutiveFailures-s.config.MaxFailures+1)
	if backoff > s.config.MaxBackoff {
		backoff = s.config.MaxBackoff
	}
	s.reschedule(backoff)
}

// reschedule swaps the job interval; callers hold s.mu.
func (s *Service) reschedule(interval time.Duration) {
	s.scheduler.Clear()
	if _, err := s.scheduler.Every(interval).Do(s.beat); err != nil {
		hbLog := logger.WithComponent("heartbeat")
		hbLog.Error().Err(err).Msg("Rescheduling heartbeat failed")
	}
}

func (s *Service) failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFailures
}
