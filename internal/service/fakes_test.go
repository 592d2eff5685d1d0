package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cityeye-service/internal/authz"
	"cityeye-service/internal/capture"
	"cityeye-service/internal/model"
	"cityeye-service/internal/repository"
)

type fakeDevices struct {
	devices map[string]model.Device
	listErr error
}

func (f *fakeDevices) ListSolutionDevices(_ context.Context, _, solutionID string) ([]model.Device, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.Device
	for _, d := range f.devices {
		if d.SolutionID == solutionID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDevices) GetDevice(_ context.Context, _, deviceID string) (*model.Device, error) {
	d, ok := f.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

type fakeStore struct {
	mu    sync.Mutex
	saved map[string]model.DetectionZones
	err   error
}

func (f *fakeStore) SaveDetectionZones(_ context.Context, zones model.DetectionZones) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.saved == nil {
		f.saved = make(map[string]model.DetectionZones)
	}
	f.saved[zones.DeviceID] = zones
	return nil
}

func (f *fakeStore) LoadDetectionZones(_ context.Context, deviceID string) (*model.DetectionZones, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	z, ok := f.saved[deviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &z, nil
}

type fakeCapturer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeCapturer) Capture(context.Context, string, string) (*capture.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return capture.NewImage([]byte{0xff, 0xd8}, "", time.Now()), nil
}

type fakeSource struct {
	mu       sync.Mutex
	requests []model.AnalyticsRequest
	respond  func(req model.AnalyticsRequest) (*model.AnalyticsResponse, error)
}

func (f *fakeSource) QueryAnalytics(_ context.Context, _ string, req model.AnalyticsRequest) (*model.AnalyticsResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type denyingError struct{}

func (denyingError) Error() string      { return "platform returned 403" }
func (denyingError) Unauthorized() bool { return true }

func newEnforcer(t *testing.T) *authz.Enforcer {
	t.Helper()
	e, err := authz.NewEnforcer()
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}
	return e
}

func customerPrincipal(customer uuid.UUID, role model.UserRole) model.Principal {
	return model.Principal{UserID: uuid.New(), CustomerID: &customer, Role: role, Token: "tok"}
}

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func count(v int64) *int64 {
	return &v
}
