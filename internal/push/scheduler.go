package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukerupert/homebase/internal/model"
	"github.com/dukerupert/homebase/internal/recurrence"
	"github.com/dukerupert/homebase/internal/store"
)

// Notifier delivers one payload to one subscription. *Service implements it.
type Notifier interface {
	Send(sub *model.PushSubscription, payload Payload) error
}

const (
	DefaultSpec      = "@every 1m"
	DefaultLookback  = 15 * time.Minute
	DefaultRetention = 30 * 24 * time.Hour
)

// Scheduler periodically sends reminders for open items whose fire times
// have arrived. Each (item, fire time) pair is sent at most once.
type Scheduler struct {
	notifier  Notifier
	push      *store.PushStore
	items     *store.ItemStore
	logger    *slog.Logger
	spec      string
	lookback  time.Duration
	retention time.Duration
	now       func() time.Time
	jobs      []job

	mu   sync.Mutex
	cron *cron.Cron
	done chan struct{}
}

// job is extra housekeeping run on the scheduler's cron alongside sweeps.
type job struct {
	name string
	spec string
	fn   func()
}

type SchedulerOption func(*Scheduler)

// WithSpec sets the cron schedule for sweeps, e.g. "@every 30s" or "*/5 * * * *".
func WithSpec(spec string) SchedulerOption {
	return func(s *Scheduler) { s.spec = spec }
}

// WithLookback sets how far behind now a fire time may be and still be sent.
func WithLookback(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lookback = d }
}

func WithRetention(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.retention = d }
}

func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

// WithJob runs fn on spec for as long as the scheduler is started.
func WithJob(name, spec string, fn func()) SchedulerOption {
	return func(s *Scheduler) { s.jobs = append(s.jobs, job{name: name, spec: spec, fn: fn}) }
}

// NewScheduler creates a notification scheduler.
func NewScheduler(n Notifier, pushStore *store.PushStore, itemStore *store.ItemStore, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		notifier:  n,
		push:      pushStore,
		items:     itemStore,
		logger:    slog.Default(),
		spec:      DefaultSpec,
		lookback:  DefaultLookback,
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "push_scheduler")
	return s
}

// Start schedules sweeps and returns immediately. Sweeps stop when ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.spec, func() {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", s.spec, err)
	}
	for _, j := range s.jobs {
		if _, err := c.AddFunc(j.spec, j.fn); err != nil {
			return fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
	}
	c.Start()
	s.cron = c
	done := make(chan struct{})
	s.done = done
	s.logger.Info("scheduler started", "spec", s.spec, "lookback", s.lookback, "jobs", len(s.jobs))

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-done:
		}
	}()
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, done := s.cron, s.done
	s.cron, s.done = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	close(done)
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Sweep sends every unsent fire time in (now-lookback, now] for every open
// item and returns how many notifications were recorded.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	items, err := s.items.ListOpen()
	if err != nil {
		return 0, fmt.Errorf("list open items: %w", err)
	}

	var sent int
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		for _, fireAt := range dueFireTimes(item, now, s.lookback) {
			ok, err := s.push.WasSent(item.ID, fireAt)
			if err != nil {
				s.logger.Error("check sent", "item_id", item.ID, "error", err)
				continue
			}
			if ok {
				continue
			}
			s.deliver(item, fireAt)
			if err := s.push.RecordSent(item.ID, fireAt); err != nil {
				s.logger.Error("record sent", "item_id", item.ID, "error", err)
				continue
			}
			sent++
		}
	}

	if n, err := s.push.CleanupSent(now.Add(-s.retention)); err != nil {
		s.logger.Warn("cleanup sent notifications", "error", err)
	} else if n > 0 {
		s.logger.Debug("cleaned sent notifications", "count", n)
	}
	return sent, nil
}

// dueFireTimes returns the item's fire times inside (now-lookback, now].
func dueFireTimes(item model.Item, now time.Time, lookback time.Duration) []time.Time {
	from := now.Add(-lookback)
	var out []time.Time
	for _, t := range recurrence.NotificationTimes(item.DueAt, item.Advances) {
		if t.After(from) && !t.After(now) {
			out = append(out, t)
		}
	}
	return out
}

func (s *Scheduler) deliver(item model.Item, fireAt time.Time) {
	subs, err := s.push.ListByFamily(item.FamilyID)
	if err != nil {
		s.logger.Error("list subscriptions", "family_id", item.FamilyID, "error", err)
		return
	}

	payload := payloadFor(item, fireAt)
	for _, sub := range subs {
		if item.AssignedTo != "" && sub.UserID != item.AssignedTo {
			continue
		}
		if err := s.notifier.Send(&sub, payload); err != nil {
			if errors.Is(err, ErrExpired) {
				if err := s.push.DeleteByEndpoint(sub.Endpoint); err != nil {
					s.logger.Warn("delete expired subscription", "error", err)
				}
				continue
			}
			s.logger.Warn("send notification", "item_id", item.ID, "user_id", sub.UserID, "error", err)
		}
	}
}

var kindTitles = map[model.Kind]string{
	model.KindEvent:       "Calendar Reminder",
	model.KindChore:       "Chore Reminder",
	model.KindCleaning:    "Cleaning Reminder",
	model.KindGrocery:     "Grocery Reminder",
	model.KindMeal:        "Meal Reminder",
	model.KindReminder:    "Reminder",
	model.KindVaccination: "Vaccination Due",
}

func payloadFor(item model.Item, fireAt time.Time) Payload {
	title, ok := kindTitles[item.Kind]
	if !ok {
		title = "Reminder"
	}
	lead := item.DueAt.Sub(fireAt)
	body := fmt.Sprintf("%s is due now", item.Title)
	if lead > 0 {
		body = fmt.Sprintf("%s is due in %s", item.Title, formatLead(lead))
	}
	return Payload{
		Title: title,
		Body:  body,
		URL:   "/" + string(item.Kind),
		Tag:   fmt.Sprintf("%s-%d", item.Kind, item.ID),
		Kind:  item.Kind,
		Lead:  max(lead, 0),
	}
}

func formatLead(d time.Duration) string {
	switch {
	case d >= 7*24*time.Hour && d%(7*24*time.Hour) == 0:
		return unitCount(int(d/(7*24*time.Hour)), "week")
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return unitCount(int(d/(24*time.Hour)), "day")
	case d >= time.Hour && d%time.Hour == 0:
		return unitCount(int(d/time.Hour), "hour")
	default:
		return unitCount(int(d.Round(time.Minute)/time.Minute), "minute")
	}
}

func unitCount(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
