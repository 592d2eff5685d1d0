// Package fetch tracks the analytics request state of one dashboard panel:
// idle, loading, success or error.
package fetch

import (
	"sync"

	"cityeye-service/internal/model"
)

type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateSuccess State = "success"
	StateError   State = "error"
)

type Snapshot struct {
	State   State                    `json:"state"`
	Data    *model.AnalyticsResponse `json:"data"`
	Loading bool                     `json:"loading"`
	Error   *string                  `json:"error"`
}

// Ticket identifies one request issued through a slot.
type Ticket struct {
	seq uint64
}

// Slot holds the data/loading/error triple of one (tab, period) panel. Every
// Begin and Reset bumps a sequence number; Complete is applied only for the
// ticket of the latest Begin, so a slow response can never overwrite a newer
// one.
type Slot struct {
	mu    sync.Mutex
	state State
	data  *model.AnalyticsResponse
	err   string
	seq   uint64
}

func NewSlot() *Slot {
	return &Slot{state: StateIdle}
}

// Begin starts a request when query is non-nil and metrics is non-empty.
// Otherwise the slot is cleared and false is returned: no request may be
// issued.
func (s *Slot) Begin(query *model.AnalyticsQuery, metrics []model.Metric) (Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.data = nil
	s.err = ""
	if query == nil || len(metrics) == 0 {
		s.state = StateIdle
		return Ticket{}, false
	}
	s.state = StateLoading
	return Ticket{seq: s.seq}, true
}

// Complete records the outcome of the request identified by t. It reports
// false and changes nothing when t was superseded.
func (s *Slot) Complete(t Ticket, data *model.AnalyticsResponse, message string, failed bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.seq == 0 || t.seq != s.seq || s.state != StateLoading {
		return false
	}
	if failed {
		s.state = StateError
		s.data = nil
		s.err = message
		return true
	}
	s.state = StateSuccess
	s.data = data
	s.err = ""
	return true
}

// Reset returns the slot to idle and invalidates any request in flight.
func (s *Slot) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.state = StateIdle
	s.data = nil
	s.err = ""
}

func (s *Slot) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:   s.state,
		Data:    s.data,
		Loading: s.state == StateLoading,
	}
	if s.err != "" {
		msg := s.err
		snap.Error = &msg
	}
	return snap
}
