package zone

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"cityeye-service/internal/capture"
	"cityeye-service/internal/metrics"
	"cityeye-service/internal/model"
)

var ErrSessionClosed = errors.New("editing session closed")

type CaptureState string

const (
	CaptureIdle    CaptureState = "idle"
	CaptureLoading CaptureState = "loading"
	CaptureReady   CaptureState = "ready"
	CaptureFailed  CaptureState = "failed"
)

type CaptureStatus struct {
	State     CaptureState `json:"state"`
	Error     string       `json:"error,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type SessionView struct {
	ID           uuid.UUID        `json:"id"`
	DeviceID     string           `json:"device_id"`
	Canvas       model.Size       `json:"canvas"`
	MaxZones     int              `json:"max_zones"`
	ActiveZoneID *int             `json:"active_zone_id"`
	Zones        []model.ZoneView `json:"zones"`
	Capture      CaptureStatus    `json:"capture"`
	HasImage     bool             `json:"has_image"`
}

// CaptureFunc produces a reference image for the session's device.
type CaptureFunc func(ctx context.Context) (*capture.Image, error)

// Session is one user's editing of one device's zones. All methods are safe
// for concurrent use.
type Session struct {
	ID       uuid.UUID
	DeviceID string
	OwnerID  uuid.UUID

	mu          sync.Mutex
	editor      *Editor
	image       capture.Holder
	capture     CaptureStatus
	subscribers map[chan CaptureStatus]struct{}
	touched     time.Time
	now         func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
	closed   bool
}

func newSession(ownerID uuid.UUID, deviceID string, editor *Editor, now func() time.Time) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:          uuid.New(),
		DeviceID:    deviceID,
		OwnerID:     ownerID,
		editor:      editor,
		capture:     CaptureStatus{State: CaptureIdle, UpdatedAt: now()},
		subscribers: make(map[chan CaptureStatus]struct{}),
		touched:     now(),
		now:         now,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Edit runs fn against the session's editor under the session lock.
func (s *Session) Edit(fn func(e *Editor) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.touched = s.now()
	return fn(s.editor)
}

func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = s.now()

	view := SessionView{
		ID:       s.ID,
		DeviceID: s.DeviceID,
		Canvas:   s.editor.Canvas(),
		MaxZones: s.editor.opts.MaxZones,
		Zones:    s.editor.Snapshot(),
		Capture:  s.capture,
	}
	if id, ok := s.editor.Active().ID(); ok {
		view.ActiveZoneID = &id
	}
	if img := s.image.Current(); img != nil && !img.Released() {
		view.HasImage = true
	}
	return view
}

func (s *Session) Image() *capture.Image {
	return s.image.Current()
}

func (s *Session) CaptureStatus() CaptureStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture
}

// StartCapture runs fn in the background. Only the most recent attempt may
// install its image or change the capture status; older results are
// released on arrival.
func (s *Session) StartCapture(fn CaptureFunc) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	generation := s.image.Begin()
	s.setCaptureLocked(CaptureStatus{State: CaptureLoading})
	s.inflight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.inflight.Done()
		img, err := fn(s.ctx)

		s.mu.Lock()
		defer s.mu.Unlock()

		if !s.image.Latest(generation) {
			if img != nil {
				img.Release()
			}
			metrics.CaptureAttemptsTotal.WithLabelValues("stale").Inc()
			return
		}
		if err != nil {
			s.setCaptureLocked(CaptureStatus{State: CaptureFailed, Error: err.Error()})
			return
		}
		if s.image.Install(generation, img) {
			s.setCaptureLocked(CaptureStatus{State: CaptureReady})
		}
	}()
}

// Subscribe returns a channel receiving every capture status change, primed
// with the current status. The channel is closed when the session closes or
// the returned cancel func is called.
func (s *Session) Subscribe() (<-chan CaptureStatus, func()) {
	ch := make(chan CaptureStatus, 4)

	s.mu.Lock()
	defer s.mu.Unlock()
	ch <- s.capture
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subscribers[ch]; ok {
				delete(s.subscribers, ch)
				close(ch)
			}
		})
	}
}

// WaitCaptures blocks until every background capture has returned.
func (s *Session) WaitCaptures() {
	s.inflight.Wait()
}

func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	s.image.Close()
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

func (s *Session) setCaptureLocked(status CaptureStatus) {
	status.UpdatedAt = s.now()
	s.capture = status
	for ch := range s.subscribers {
		select {
		case ch <- status:
		default:
		}
	}
}

type SessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	opts     Options
	ttl      time.Duration
	now      func() time.Time
}

func NewSessionStore(opts Options, ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[uuid.UUID]*Session),
		opts:     opts,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create opens an editing session whose editor map view is centred on
// mapCenter.
func (s *SessionStore) Create(ownerID uuid.UUID, deviceID string, mapCenter model.LatLng) *Session {
	opts := s.opts
	opts.MapCenter = mapCenter
	session := newSession(ownerID, deviceID, NewEditor(opts), s.now)

	s.mu.Lock()
	s.sessions[session.ID] = session
	count := len(s.sessions)
	s.mu.Unlock()

	metrics.EditorSessionsActive.Set(float64(count))
	return session
}

func (s *SessionStore) Get(id uuid.UUID) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

func (s *SessionStore) Close(id uuid.UUID) bool {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	count := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return false
	}
	session.Close()
	metrics.EditorSessionsActive.Set(float64(count))
	return true
}

// Sweep closes sessions idle for longer than the store TTL.
func (s *SessionStore) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	var expired []*Session
	for id, session := range s.sessions {
		if session.idleSince().Before(cutoff) {
			expired = append(expired, session)
			delete(s.sessions, id)
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()

	for _, session := range expired {
		session.Close()
	}
	metrics.EditorSessionsActive.Set(float64(count))
	return len(expired)
}

// Run sweeps idle sessions every interval until ctx is done, then closes
// every remaining session.
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.CloseAll()
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// CloseAll closes every session and waits for their background captures to
// return.
func (s *SessionStore) CloseAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[uuid.UUID]*Session)
	s.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	for _, session := range sessions {
		session.WaitCaptures()
	}
	metrics.EditorSessionsActive.Set(0)
}
