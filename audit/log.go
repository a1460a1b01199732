package audit

import (
	"context"
	"log"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config configures a [Log].
type Config struct {
	// Frameworks are the compliance frameworks every entry is tagged with.
	Frameworks []string
	// Sink, when set, receives entries asynchronously after the store
	// append.
	Sink Sink
	// SinkBuffer bounds the dispatcher queue. Defaults to 256.
	SinkBuffer int
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Log is the audit log facade: it scores, tags and appends events, serves
// read-only statistics, and enforces retention.
type Log struct {
	store      Store
	frameworks []string
	dispatcher *Dispatcher
	now        func() time.Time

	appendFailures atomic.Uint64
}

func New(store Store, cfg Config) *Log {
	if store == nil {
		store = NewMemoryStore()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	buffer := cfg.SinkBuffer
	if buffer <= 0 {
		buffer = 256
	}

	l := &Log{
		store:      store,
		frameworks: append([]string(nil), cfg.Frameworks...),
		now:        now,
	}
	if cfg.Sink != nil {
		l.dispatcher = NewDispatcher(DispatcherConfig{BufferSize: buffer, DropIfFull: true}, cfg.Sink)
	}
	return l
}

// Record scores, tags and appends the event, returning the resulting
// entry. Recording never fails: store errors are counted and logged
// locally, never surfaced to the operation being audited.
func (l *Log) Record(ctx context.Context, event Event) Entry {
	entry := Entry{
		ID:         uuid.NewString(),
		Timestamp:  l.now().UTC(),
		UserID:     event.UserID,
		Action:     event.Action,
		Resource:   event.Resource,
		Outcome:    event.Outcome,
		Detail:     event.Detail,
		RiskScore:  riskScore(event),
		Frameworks: l.frameworks,
	}

	if err := l.store.Append(ctx, entry); err != nil {
		l.appendFailures.Add(1)
		log.Printf("audit: append failed for action %s: %v", entry.Action, err)
	}
	l.dispatcher.Emit(ctx, entry)

	return entry
}

// AppendFailures returns how many entries could not be durably appended.
func (l *Log) AppendFailures() uint64 {
	return l.appendFailures.Load()
}

// ActionCount is one row of the top-actions statistic.
type ActionCount struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

// Stats is the read-only aggregation over a rolling window.
type Stats struct {
	TotalEvents      int            `json:"total_events"`
	FailureRate      float64        `json:"failure_rate"`
	HighRiskEvents   int            `json:"high_risk_events"`
	TopActions       []ActionCount  `json:"top_actions"`
	FrameworkSuccess map[string]int `json:"framework_success"`
}

// Statistics aggregates entries recorded within the trailing window.
func (l *Log) Statistics(ctx context.Context, window time.Duration) (Stats, error) {
	to := l.now().UTC()
	from := to.Add(-window)

	entries, err := l.store.Between(ctx, from, to.Add(time.Nanosecond))
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{FrameworkSuccess: make(map[string]int)}
	actionCounts := make(map[string]int)
	failures := 0

	for _, e := range entries {
		stats.TotalEvents++
		actionCounts[e.Action]++
		if e.Outcome == OutcomeFailure || e.Outcome == OutcomeDenied {
			failures++
		}
		if e.RiskScore >= HighRiskThreshold {
			stats.HighRiskEvents++
		}
		if e.Outcome == OutcomeSuccess {
			for _, fw := range e.Frameworks {
				stats.FrameworkSuccess[fw]++
			}
		}
	}

	if stats.TotalEvents > 0 {
		stats.FailureRate = float64(failures) / float64(stats.TotalEvents)
	}

	for action, count := range actionCounts {
		stats.TopActions = append(stats.TopActions, ActionCount{Action: action, Count: count})
	}
	sort.Slice(stats.TopActions, func(i, j int) bool {
		if stats.TopActions[i].Count != stats.TopActions[j].Count {
			return stats.TopActions[i].Count > stats.TopActions[j].Count
		}
		return stats.TopActions[i].Action < stats.TopActions[j].Action
	})
	if len(stats.TopActions) > 5 {
		stats.TopActions = stats.TopActions[:5]
	}

	return stats, nil
}

// Cleanup irreversibly removes entries older than the retention horizon
// and records one summary entry with the removal count.
func (l *Log) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	cutoff := l.now().UTC().AddDate(0, 0, -retentionDays)

	removed, err := l.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	l.Record(ctx, Event{
		Action:   "audit_retention_cleanup",
		Resource: "audit_log",
		Outcome:  OutcomeSuccess,
		Detail: map[string]string{
			"removed_entries": strconv.Itoa(removed),
			"retention_days":  strconv.Itoa(retentionDays),
		},
	})

	return removed, nil
}

// Close drains the sink dispatcher.
func (l *Log) Close() {
	l.dispatcher.Close()
}
