package scheduler

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"TickerStream/internal/model"
	"TickerStream/internal/notifier"
	"TickerStream/internal/recorder"
	"TickerStream/internal/stream"
)

// Stream is the subset of the stream client the scheduler drives.
type Stream interface {
	Snapshot() stream.Snapshot
	Reconnect()
}

// Schedule holds the cron expressions (with seconds) for each job.
type Schedule struct {
	SessionOpen string
	Snapshot    string
	Prune       string
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron      *cron.Cron
	Stream    Stream
	Recorder  recorder.Recorder
	Retention time.Duration
	Log       *zap.Logger
	now       func() time.Time

	mu         sync.Mutex
	lastSample *model.Quote
}

// NewScheduler creates a new Scheduler.
func NewScheduler(st Stream, rec recorder.Recorder, retentionDays int, log *zap.Logger) *Scheduler {
	return &Scheduler{
		Cron:      cron.New(cron.WithSeconds()),
		Stream:    st,
		Recorder:  rec,
		Retention: time.Duration(retentionDays) * 24 * time.Hour,
		Log:       log.Named("scheduler"),
		now:       time.Now,
	}
}

// RegisterAll registers the session-open, snapshot and prune jobs. Empty
// expressions skip the job.
func (s *Scheduler) RegisterAll(sch Schedule) error {
	jobs := []struct {
		name string
		expr string
		fn   func()
	}{
		{"session open", sch.SessionOpen, s.sessionOpen},
		{"snapshot", sch.Snapshot, s.sampleQuote},
		{"prune", sch.Prune, s.prune},
	}
	for _, j := range jobs {
		if j.expr == "" {
			continue
		}
		if _, err := s.Cron.AddFunc(j.expr, j.fn); err != nil {
			return fmt.Errorf("register %s task: %w", j.name, err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.Log.Info("scheduler started", zap.Int("jobs", len(s.Cron.Entries())))
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.Log.Info("scheduler stopped")
}

func (s *Scheduler) sessionOpen() {
	s.Log.Info("session open, reconnecting stream")
	s.Stream.Reconnect()
}

// sampleQuote records the current quote when it differs from the last sample.
func (s *Scheduler) sampleQuote() {
	q := s.Stream.Snapshot().Quote
	if q == nil {
		return
	}

	s.mu.Lock()
	if s.lastSample != nil && s.lastSample.LastUpdated.Equal(q.LastUpdated) && s.lastSample.Price == q.Price {
		s.mu.Unlock()
		return
	}
	s.lastSample = q
	s.mu.Unlock()

	if err := s.Recorder.RecordQuote(q); err != nil {
		s.Log.Error("record quote failed", zap.Error(err))
	}
}

func (s *Scheduler) prune() {
	if s.Retention <= 0 {
		return
	}
	cutoff := s.now().Add(-s.Retention)
	n, err := s.Recorder.PruneBefore(cutoff)
	if err != nil {
		s.Log.Error("prune history failed", zap.Error(err))
		return
	}
	s.Log.Info("history pruned", zap.Int64("rows", n), zap.Time("cutoff", cutoff))
}

// HandleCommand processes an operator command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	// Telegram appends @botname in group chats.
	if i := strings.IndexByte(command, '@'); i > 0 {
		command = command[:i]
	}
	switch command {
	case "/quote":
		snap := s.Stream.Snapshot()
		if snap.Quote == nil {
			if q, err := s.Recorder.LatestQuote(snap.Symbol); err == nil && q != nil {
				return "Last recorded:\n" + notifier.FormatQuote(q)
			}
		}
		return notifier.FormatQuote(snap.Quote)
	case "/status":
		return notifier.FormatStatus(s.Stream.Snapshot())
	case "/reconnect":
		s.Stream.Reconnect()
		return "Reconnecting stream."
	default:
		return "Available commands:\n• /quote\n• /status\n• /reconnect"
	}
}
