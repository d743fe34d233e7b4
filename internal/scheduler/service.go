// Package scheduler runs oracle requests on a fixed interval.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arhansuba/zr-don-pay/internal/domain"
	"github.com/arhansuba/zr-don-pay/internal/oracle"
	"github.com/arhansuba/zr-don-pay/pkg/errors"
	"github.com/arhansuba/zr-don-pay/pkg/logger"
	"github.com/arhansuba/zr-don-pay/pkg/validator"
)

const (
	FeedActive    = "active"
	FeedCancelled = "cancelled"
)

// Feed submits a source every Interval under consecutive request ids.
type Feed struct {
	ID            string              `json:"id"`
	SourceURI     string              `json:"source_uri"`
	Interval      time.Duration       `json:"-"`
	IntervalText  string              `json:"interval"`
	Options       domain.FetchOptions `json:"options"`
	NextRequestID uint64              `json:"next_request_id"`
	NextRun       time.Time           `json:"next_run"`
	Status        string              `json:"status"`
	Runs          uint64              `json:"runs"`
	Failures      uint64              `json:"failures"`
	LastError     string              `json:"last_error,omitempty"`
	LastRunAt     *time.Time          `json:"last_run_at,omitempty"`

	running bool
}

type Runner interface {
	Run(ctx context.Context, req oracle.RunRequest) (*domain.SubmissionReceipt, error)
}

type Scheduler struct {
	runner Runner
	tick   time.Duration
	logger logger.Logger
	now    func() time.Time

	mu    sync.RWMutex
	feeds map[string]*Feed

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewScheduler checks due feeds every tick (one second when zero).
func NewScheduler(r Runner, tick time.Duration, log logger.Logger) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner: r,
		tick:   tick,
		logger: log,
		now:    time.Now,
		feeds:  make(map[string]*Feed),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Schedule registers a feed. The first run is one interval from now unless
// NextRun is set.
func (s *Scheduler) Schedule(f Feed) (Feed, error) {
	if f.Interval <= 0 {
		return Feed{}, errors.Wrap(errors.ErrInvalidRequest, "interval must be positive")
	}
	if !validator.IsSourceURI(f.SourceURI) {
		return Feed{}, errors.Wrap(errors.ErrInvalidRequest, "source_uri must be an absolute http or https URL")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if _, ok := s.feeds[f.ID]; ok {
		return Feed{}, errors.Wrapf(errors.ErrInvalidRequest, "feed %s already exists", f.ID)
	}
	if f.NextRun.IsZero() {
		f.NextRun = s.now().Add(f.Interval)
	}
	f.IntervalText = f.Interval.String()
	f.Status = FeedActive

	feed := f
	s.feeds[f.ID] = &feed
	s.logger.Info("Scheduled oracle feed", map[string]interface{}{
		"id":         f.ID,
		"source_uri": f.SourceURI,
		"interval":   f.IntervalText,
		"request_id": f.NextRequestID,
	})
	return feed, nil
}

// Cancel stops future runs of a feed. A run in flight completes.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.feeds[id]
	if !ok {
		return errors.Wrapf(errors.ErrFeedNotFound, "feed %s", id)
	}
	f.Status = FeedCancelled
	s.logger.Info("Cancelled oracle feed", map[string]interface{}{"id": id})
	return nil
}

// Feeds returns a snapshot of every feed ordered by id.
func (s *Scheduler) Feeds() []Feed {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.processFeeds()
			case <-s.ctx.Done():
				return
			}
		}
	}()
	s.logger.Info("Oracle scheduler started", nil)
}

// Stop aborts in-flight runs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) processFeeds() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, f := range s.feeds {
		if f.Status != FeedActive || f.running || now.Before(f.NextRun) {
			continue
		}
		f.running = true
		f.NextRun = now.Add(f.Interval)
		req := oracle.RunRequest{RequestID: f.NextRequestID, SourceURI: f.SourceURI, Options: f.Options}

		s.wg.Add(1)
		go s.execute(f.ID, req)
	}
}

func (s *Scheduler) execute(id string, req oracle.RunRequest) {
	defer s.wg.Done()

	s.logger.Info("Executing oracle feed", map[string]interface{}{
		"id":         id,
		"request_id": req.RequestID,
	})
	receipt, err := s.runner.Run(s.ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.feeds[id]
	f.running = false
	f.Runs++
	ranAt := s.now()
	f.LastRunAt = &ranAt

	if err != nil {
		f.Failures++
		f.LastError = err.Error()
		s.logger.Error("Oracle feed run failed", map[string]interface{}{
			"id":         id,
			"request_id": req.RequestID,
			"error":      err.Error(),
		})
		return
	}
	// Only a submitted request consumes its id.
	f.LastError = ""
	f.NextRequestID = req.RequestID + 1
	s.logger.Info("Oracle feed run submitted", map[string]interface{}{
		"id":               id,
		"request_id":       req.RequestID,
		"operation_handle": receipt.OperationHandle,
	})
}
