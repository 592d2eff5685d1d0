package http

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cityeye-service/internal/auth"
	"cityeye-service/internal/authz"
	"cityeye-service/internal/capture"
	"cityeye-service/internal/http/middleware"
	"cityeye-service/internal/model"
	"cityeye-service/internal/platform"
	"cityeye-service/internal/repository"
	"cityeye-service/internal/service"
	"cityeye-service/internal/zone"
)

const testSecret = "test-secret"

type stubPlatform struct {
	customer uuid.UUID
	queryErr error
}

func (s *stubPlatform) ListSolutionDevices(context.Context, string, string) ([]model.Device, error) {
	return []model.Device{{ID: "cam-1", Name: "Gate", CustomerID: s.customer.String()}}, nil
}

func (s *stubPlatform) GetDevice(_ context.Context, _, deviceID string) (*model.Device, error) {
	if deviceID != "cam-1" {
		return nil, &platform.APIError{Operation: "get_device", Status: http.StatusNotFound}
	}
	return &model.Device{ID: "cam-1", CustomerID: s.customer.String(), Latitude: 35, Longitude: 139}, nil
}

func (s *stubPlatform) QueryAnalytics(context.Context, string, model.AnalyticsRequest) (*model.AnalyticsResponse, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	total := int64(7)
	return &model.AnalyticsResponse{Devices: []model.DeviceAnalytics{{DeviceID: "cam-1", TotalCount: &total}}}, nil
}

type memoryStore struct {
	saved map[string]model.DetectionZones
}

func (m *memoryStore) SaveDetectionZones(_ context.Context, zones model.DetectionZones) error {
	m.saved[zones.DeviceID] = zones
	return nil
}

func (m *memoryStore) LoadDetectionZones(_ context.Context, deviceID string) (*model.DetectionZones, error) {
	z, ok := m.saved[deviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &z, nil
}

type blockingCapturer struct {
	release chan struct{}
}

func (b *blockingCapturer) Capture(ctx context.Context, _, _ string) (*capture.Image, error) {
	select {
	case <-b.release:
		return capture.NewImage([]byte("jpeg-bytes"), "image/jpeg", time.Now()), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type testServer struct {
	router   *gin.Engine
	parser   *auth.Parser
	platform *stubPlatform
	store    *memoryStore
	capturer *blockingCapturer
	sessions *zone.SessionStore
	customer uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	enforcer, err := authz.NewEnforcer()
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}

	customer := uuid.New()
	stub := &stubPlatform{customer: customer}
	store := &memoryStore{saved: map[string]model.DetectionZones{}}
	capturer := &blockingCapturer{release: make(chan struct{})}
	sessions := zone.NewSessionStore(zone.Options{Canvas: model.Size{Width: 640, Height: 360}}, time.Hour)
	t.Cleanup(sessions.CloseAll)

	log := zerolog.Nop()
	zones := service.NewZoneService(sessions, stub, store, capturer, enforcer, log)
	analytics := service.NewAnalyticsService(stub, stub, enforcer, time.UTC, log)
	parser := auth.NewParser(testSecret)

	handler := NewHandler(zones, analytics, log)
	router := NewRouter(handler, middleware.Auth(parser), "test", nil, log)

	return &testServer{
		router:   router,
		parser:   parser,
		platform: stub,
		store:    store,
		capturer: capturer,
		sessions: sessions,
		customer: customer,
	}
}

func (s *testServer) token(t *testing.T, role model.UserRole) string {
	t.Helper()
	customer := s.customer
	token, err := s.parser.Issue(auth.Claims{UserID: uuid.New(), CustomerID: &customer, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	s := newTestServer(t)

	if rec := s.do(t, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/metrics", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestAuthFailures(t *testing.T) {
	s := newTestServer(t)

	if rec := s.do(t, http.MethodGet, "/cityeye/dashboards/"+uuid.NewString(), "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/cityeye/dashboards/"+uuid.NewString(), "garbage", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d", rec.Code)
	}

	expired, err := s.parser.Issue(auth.Claims{UserID: uuid.New(), Role: model.UserRoleAdmin}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	rec := s.do(t, http.MethodGet, "/cityeye/dashboards/"+uuid.NewString(), expired, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired token = %d", rec.Code)
	}
	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["sign_out"] != true || body["error"] != "session expired" {
		t.Fatalf("expired body = %v", body)
	}
}

func TestDashboardFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, model.UserRoleCustomerAdmin)

	rec := s.do(t, http.MethodPost, "/cityeye/dashboards", token, map[string]string{"solution_id": "sol-1", "tab": "people"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	var view service.DashboardView
	decodeData(t, rec, &view)
	base := "/cityeye/dashboards/" + view.ID.String()

	rec = s.do(t, http.MethodPost, base+"/apply", token, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("apply without period = %d %s", rec.Code, rec.Body.String())
	}

	filters := map[string]interface{}{
		"analysis_period":  map[string]string{"from": "2024-02-01", "to": "2024-02-07"},
		"selected_devices": []string{"cam-1"},
	}
	if rec = s.do(t, http.MethodPut, base+"/filters", token, filters); rec.Code != http.StatusOK {
		t.Fatalf("filters = %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, base+"/apply", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("apply = %d %s", rec.Code, rec.Body.String())
	}
	decodeData(t, rec, &view)
	if view.Main.PeopleFlow == nil || view.Main.PeopleFlow.Total != 7 {
		t.Fatalf("main = %+v", view.Main)
	}

	if rec = s.do(t, http.MethodPut, base+"/tab", token, map[string]string{"tab": "weather"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad tab = %d", rec.Code)
	}
	if rec = s.do(t, http.MethodPut, base+"/comparison", token, map[string]interface{}{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("comparison without enabled = %d", rec.Code)
	}
	if rec = s.do(t, http.MethodPut, base+"/metrics", token, map[string]interface{}{"metrics": []string{"total_count"}}); rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if rec = s.do(t, http.MethodDelete, base, token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	if rec = s.do(t, http.MethodGet, base, token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted = %d", rec.Code)
	}
}

func TestDashboardPlatformErrors(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, model.UserRoleCustomerAdmin)

	rec := s.do(t, http.MethodPost, "/cityeye/dashboards", token, map[string]string{"solution_id": "sol-1"})
	var view service.DashboardView
	decodeData(t, rec, &view)
	base := "/cityeye/dashboards/" + view.ID.String()
	filters := map[string]interface{}{"analysis_period": map[string]string{"from": "2024-02-01", "to": "2024-02-07"}, "selected_devices": []string{"cam-1"}}
	s.do(t, http.MethodPut, base+"/filters", token, filters)

	s.platform.queryErr = &platform.APIError{Status: http.StatusForbidden}
	rec = s.do(t, http.MethodPost, base+"/apply", token, nil)
	if rec.Code != http.StatusForbidden || !strings.Contains(rec.Body.String(), `"sign_out":true`) {
		t.Fatalf("platform 403 = %d %s", rec.Code, rec.Body.String())
	}

	s.platform.queryErr = &platform.APIError{Status: http.StatusBadRequest, Message: "bad window"}
	rec = s.do(t, http.MethodPost, base+"/apply", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("platform 400 = %d", rec.Code)
	}
	decodeData(t, rec, &view)
	if view.Main.Fetch.Error == nil || *view.Main.Fetch.Error != "bad window" {
		t.Fatalf("fetch error = %+v", view.Main.Fetch)
	}
}

func TestDashboardForbiddenForEngineer(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, model.UserRoleEngineer)

	rec := s.do(t, http.MethodPost, "/cityeye/dashboards", token, map[string]string{"solution_id": "sol-1"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("engineer create = %d", rec.Code)
	}
}

func TestZoneEditorFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, model.UserRoleEngineer)

	rec := s.do(t, http.MethodPost, "/cityeye/zone-editor/sessions", token, map[string]string{"device_id": "cam-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open = %d %s", rec.Code, rec.Body.String())
	}
	var view zone.SessionView
	decodeData(t, rec, &view)
	base := "/cityeye/zone-editor/sessions/" + view.ID.String()
	if view.Capture.State != zone.CaptureLoading {
		t.Fatalf("capture = %+v", view.Capture)
	}

	if rec = s.do(t, http.MethodGet, base+"/image", token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("image before capture = %d", rec.Code)
	}

	for i := 0; i < 8; i++ {
		if rec = s.do(t, http.MethodPost, base+"/zones", token, nil); rec.Code != http.StatusCreated {
			t.Fatalf("add zone %d = %d", i+1, rec.Code)
		}
	}
	if rec = s.do(t, http.MethodPost, base+"/zones", token, nil); rec.Code != http.StatusConflict {
		t.Fatalf("ninth zone = %d", rec.Code)
	}

	if rec = s.do(t, http.MethodPatch, base+"/zones/1", token, map[string]string{"name": "Way too long"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("long name = %d", rec.Code)
	}
	if rec = s.do(t, http.MethodPatch, base+"/zones/1", token, map[string]string{"name": "Gate"}); rec.Code != http.StatusOK {
		t.Fatalf("rename = %d", rec.Code)
	}
	if rec = s.do(t, http.MethodPost, base+"/zones/9/active", token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown zone = %d", rec.Code)
	}
	if rec = s.do(t, http.MethodPost, base+"/zones/abc/active", token, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad zone id = %d", rec.Code)
	}
	if rec = s.do(t, http.MethodPost, base+"/zones/1/visibility", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("visibility = %d", rec.Code)
	}
	if rec = s.do(t, http.MethodPut, base+"/zones/1/route/middle", token, map[string]float64{"lat": 35, "lng": 139}); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad marker = %d", rec.Code)
	}
	if rec = s.do(t, http.MethodPut, base+"/zones/1/route/end", token, map[string]float64{"lat": 35.001, "lng": 139}); rec.Code != http.StatusOK {
		t.Fatalf("move marker = %d", rec.Code)
	}
	if rec = s.do(t, http.MethodPost, base+"/vertices/1-0/drag", token, map[string]float64{"dx": 2.5, "dy": -1}); rec.Code != http.StatusOK {
		t.Fatalf("drag = %d", rec.Code)
	}
	if rec = s.do(t, http.MethodPost, base+"/vertices/99-0/drag", token, map[string]float64{"dx": 1}); rec.Code != http.StatusNotFound {
		t.Fatalf("drag unknown vertex = %d", rec.Code)
	}
	if rec = s.do(t, http.MethodDelete, base+"/zones/8", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("remove = %d", rec.Code)
	}

	if rec = s.do(t, http.MethodPost, base+"/submit", token, map[string]int{"native_width": 0}); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad submit = %d", rec.Code)
	}
	rec = s.do(t, http.MethodPost, base+"/submit", token, map[string]int{"native_width": 1280, "native_height": 720})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit = %d %s", rec.Code, rec.Body.String())
	}
	var submitted model.DetectionZones
	decodeData(t, rec, &submitted)
	if len(submitted.Zones) != 7 || submitted.Zones[0].Name != "Gate" {
		t.Fatalf("submitted %d zones, first %q", len(submitted.Zones), submitted.Zones[0].Name)
	}
	if _, ok := s.store.saved["cam-1"]; !ok {
		t.Fatal("zones were not stored")
	}

	close(s.capturer.release)
	session, _ := s.sessions.Get(view.ID)
	session.WaitCaptures()

	rec = s.do(t, http.MethodGet, base+"/image", token, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "jpeg-bytes" || rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("image = %d %q %q", rec.Code, rec.Body.String(), rec.Header().Get("Content-Type"))
	}

	if rec = s.do(t, http.MethodDelete, base, token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("close = %d", rec.Code)
	}
	if rec = s.do(t, http.MethodGet, base, token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get closed = %d", rec.Code)
	}
}

func TestOpenSessionUnknownDevice(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, model.UserRoleEngineer)

	rec := s.do(t, http.MethodPost, "/cityeye/zone-editor/sessions", token, map[string]string{"device_id": "nope"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown device = %d %s", rec.Code, rec.Body.String())
	}
}

func TestCaptureEventsStream(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, model.UserRoleEngineer)

	rec := s.do(t, http.MethodPost, "/cityeye/zone-editor/sessions", token, map[string]string{"device_id": "cam-1"})
	var view zone.SessionView
	decodeData(t, rec, &view)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := srv.URL + "/cityeye/zone-editor/sessions/" + view.ID.String() + "/capture/events?access_token=" + token
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events status = %d", resp.StatusCode)
	}

	close(s.capturer.release)

	var states []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var status zone.CaptureStatus
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &status); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		states = append(states, string(status.State))
	}

	if len(states) < 2 || states[0] != string(zone.CaptureLoading) || states[len(states)-1] != string(zone.CaptureReady) {
		t.Fatalf("states = %v", states)
	}
}

func TestCaptureEventsEndWhenTokenExpires(t *testing.T) {
	s := newTestServer(t)
	customer := s.customer
	token, err := s.parser.Issue(auth.Claims{UserID: uuid.New(), CustomerID: &customer, Role: model.UserRoleEngineer}, 2*time.Second)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rec := s.do(t, http.MethodPost, "/cityeye/zone-editor/sessions", token, map[string]string{"device_id": "cam-1"})
	var view zone.SessionView
	decodeData(t, rec, &view)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(srv.URL + "/cityeye/zone-editor/sessions/" + view.ID.String() + "/capture/events?access_token=" + token)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events status = %d", resp.StatusCode)
	}

	var events []string
	var last string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			events = append(events, strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			last = strings.TrimPrefix(line, "data:")
		}
	}

	if len(events) < 2 || events[0] != "capture" || events[len(events)-1] != "session" {
		t.Fatalf("events = %v", events)
	}
	var body struct {
		Error   string `json:"error"`
		SignOut bool   `json:"sign_out"`
	}
	if err := json.Unmarshal([]byte(last), &body); err != nil {
		t.Fatalf("decode session event %q: %v", last, err)
	}
	if !body.SignOut || body.Error != "session expired" {
		t.Fatalf("session event = %+v", body)
	}
}
