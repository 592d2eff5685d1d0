package zone

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"cityeye-service/internal/capture"
	"cityeye-service/internal/model"
)

func newTestStore(ttl time.Duration) *SessionStore {
	return NewSessionStore(Options{Canvas: model.Size{Width: 640, Height: 360}}, ttl)
}

func TestSessionEditAndView(t *testing.T) {
	store := newTestStore(time.Minute)
	s := store.Create(uuid.New(), "dev-1", model.LatLng{Lat: 1, Lng: 2})

	err := s.Edit(func(e *Editor) error {
		_, err := e.AddZone()
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	view := s.View()
	if len(view.Zones) != 1 || view.ActiveZoneID == nil || *view.ActiveZoneID != 1 {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Zones[0].Route.StartPoint.Lat != 1 {
		t.Fatalf("route should start at the map center, got %+v", view.Zones[0].Route)
	}
	if view.MaxZones != DefaultMaxZones || view.Capture.State != CaptureIdle || view.HasImage {
		t.Fatalf("unexpected defaults %+v", view)
	}
}

func TestSessionEditAfterClose(t *testing.T) {
	store := newTestStore(time.Minute)
	s := store.Create(uuid.New(), "dev-1", model.LatLng{})
	s.Close()

	called := false
	err := s.Edit(func(*Editor) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if called {
		t.Fatal("edit ran on a closed session")
	}
}

func TestCloseAllDrainsCaptures(t *testing.T) {
	store := newTestStore(time.Minute)
	s := store.Create(uuid.New(), "dev-1", model.LatLng{})

	started := make(chan struct{})
	returned := make(chan struct{})
	s.StartCapture(func(ctx context.Context) (*capture.Image, error) {
		close(started)
		<-ctx.Done()
		close(returned)
		return nil, ctx.Err()
	})
	<-started

	store.CloseAll()
	select {
	case <-returned:
	default:
		t.Fatal("CloseAll returned before the capture finished")
	}
	if _, ok := store.Get(s.ID); ok {
		t.Fatal("session still registered")
	}
}

func TestSessionCaptureInstallsImage(t *testing.T) {
	store := newTestStore(time.Minute)
	s := store.Create(uuid.New(), "dev-1", model.LatLng{})
	updates, cancel := s.Subscribe()
	defer cancel()

	if first := <-updates; first.State != CaptureIdle {
		t.Fatalf("subscription not primed with current status: %+v", first)
	}

	img := capture.NewImage([]byte("frame"), "image/jpeg", time.Now())
	s.StartCapture(func(context.Context) (*capture.Image, error) {
		return img, nil
	})
	s.WaitCaptures()

	if status := s.CaptureStatus(); status.State != CaptureReady {
		t.Fatalf("status = %+v", status)
	}
	if s.Image() != img || !s.View().HasImage {
		t.Fatal("image not installed")
	}
	if got := <-updates; got.State != CaptureLoading {
		t.Fatalf("expected loading update, got %+v", got)
	}
	if got := <-updates; got.State != CaptureReady {
		t.Fatalf("expected ready update, got %+v", got)
	}
}

func TestSessionCaptureFailureKeepsEditing(t *testing.T) {
	store := newTestStore(time.Minute)
	s := store.Create(uuid.New(), "dev-1", model.LatLng{})

	s.StartCapture(func(context.Context) (*capture.Image, error) {
		return nil, errors.New("camera offline")
	})
	s.WaitCaptures()

	status := s.CaptureStatus()
	if status.State != CaptureFailed || status.Error != "camera offline" {
		t.Fatalf("status = %+v", status)
	}
	if err := s.Edit(func(e *Editor) error { _, err := e.AddZone(); return err }); err != nil {
		t.Fatalf("editing without an image failed: %v", err)
	}
}

func TestSessionStaleCaptureDiscarded(t *testing.T) {
	store := newTestStore(time.Minute)
	s := store.Create(uuid.New(), "dev-1", model.LatLng{})

	release := make(chan struct{})
	stale := capture.NewImage([]byte("old"), "", time.Now())
	fresh := capture.NewImage([]byte("new"), "", time.Now())

	s.StartCapture(func(context.Context) (*capture.Image, error) {
		<-release
		return stale, nil
	})
	s.StartCapture(func(context.Context) (*capture.Image, error) {
		return fresh, nil
	})
	close(release)
	s.WaitCaptures()

	if s.Image() != fresh {
		t.Fatal("stale capture replaced the newer image")
	}
	if !stale.Released() {
		t.Fatal("stale image was not released")
	}
	if s.CaptureStatus().State != CaptureReady {
		t.Fatalf("status = %+v", s.CaptureStatus())
	}
}

func TestSessionCloseReleasesImage(t *testing.T) {
	store := newTestStore(time.Minute)
	s := store.Create(uuid.New(), "dev-1", model.LatLng{})
	img := capture.NewImage([]byte("frame"), "", time.Now())
	s.StartCapture(func(context.Context) (*capture.Image, error) { return img, nil })
	s.WaitCaptures()

	updates, _ := s.Subscribe()
	<-updates

	blocked := make(chan struct{})
	late := capture.NewImage([]byte("late"), "", time.Now())
	s.StartCapture(func(ctx context.Context) (*capture.Image, error) {
		close(blocked)
		<-ctx.Done()
		return late, ctx.Err()
	})
	<-blocked

	if !store.Close(s.ID) {
		t.Fatal("close reported missing session")
	}
	s.WaitCaptures()

	if !img.Released() || !late.Released() {
		t.Fatal("images not released on close")
	}
	for range updates {
	}
	if _, ok := store.Get(s.ID); ok {
		t.Fatal("session still registered")
	}
	if store.Close(s.ID) {
		t.Fatal("second close should report false")
	}
}

func TestSessionStoreSweep(t *testing.T) {
	store := newTestStore(time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	idle := store.Create(uuid.New(), "dev-1", model.LatLng{})
	busy := store.Create(uuid.New(), "dev-2", model.LatLng{})

	now = now.Add(2 * time.Minute)
	busy.View()

	if n := store.Sweep(); n != 1 {
		t.Fatalf("swept %d sessions, want 1", n)
	}
	if _, ok := store.Get(idle.ID); ok {
		t.Fatal("idle session survived")
	}
	if _, ok := store.Get(busy.ID); !ok {
		t.Fatal("busy session was swept")
	}
}
