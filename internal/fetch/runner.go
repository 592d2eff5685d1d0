package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"cityeye-service/internal/model"
)

const (
	SuccessMessage = "Analytics data loaded"
	FailureMessage = "Failed to fetch analytics data"

	inboxCapacity = 20
)

type Notifier interface {
	Success(message string)
	Failure(message string)
}

type FetchFunc func(ctx context.Context, req model.AnalyticsRequest) (*model.AnalyticsResponse, error)

// Outcome tells the caller what happened to one Run.
type Outcome string

const (
	OutcomeSkipped Outcome = "skipped"
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeStale   Outcome = "stale"
)

// Runner issues a single request per Run. There is no retry.
type Runner struct {
	notifier Notifier
}

func NewRunner(notifier Notifier) *Runner {
	return &Runner{notifier: notifier}
}

func (r *Runner) Run(ctx context.Context, slot *Slot, query *model.AnalyticsQuery, metrics []model.Metric, fn FetchFunc) Outcome {
	ticket, ok := slot.Begin(query, metrics)
	if !ok {
		return OutcomeSkipped
	}

	resp, err := fn(ctx, model.AnalyticsRequest{AnalyticsQuery: *query, Metrics: metrics})
	if err != nil {
		message := ErrorMessage(err)
		if !slot.Complete(ticket, nil, message, true) {
			return OutcomeStale
		}
		r.notifier.Failure(message)
		return OutcomeError
	}

	if !slot.Complete(ticket, resp, "", false) {
		return OutcomeStale
	}
	r.notifier.Success(SuccessMessage)
	return OutcomeSuccess
}

type detailer interface {
	Detail() string
}

// ErrorMessage prefers the detail the platform sent with the error.
func ErrorMessage(err error) string {
	var d detailer
	if errors.As(err, &d) && d.Detail() != "" {
		return d.Detail()
	}
	return FailureMessage
}

type Notification struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Inbox is a Notifier that keeps the latest notifications until drained.
type Inbox struct {
	mu    sync.Mutex
	items []Notification
	now   func() time.Time
}

func NewInbox() *Inbox {
	return &Inbox{now: time.Now}
}

func (i *Inbox) Success(message string) {
	i.push("success", message)
}

func (i *Inbox) Failure(message string) {
	i.push("error", message)
}

// Drain returns the pending notifications oldest first and empties the inbox.
func (i *Inbox) Drain() []Notification {
	i.mu.Lock()
	defer i.mu.Unlock()
	items := i.items
	i.items = nil
	return items
}

func (i *Inbox) push(level, message string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.items = append(i.items, Notification{Level: level, Message: message, At: i.now()})
	if len(i.items) > inboxCapacity {
		i.items = i.items[len(i.items)-inboxCapacity:]
	}
}
