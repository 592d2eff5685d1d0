package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cityeye-service/internal/authz"
	"cityeye-service/internal/capture"
	"cityeye-service/internal/geometry"
	"cityeye-service/internal/metrics"
	"cityeye-service/internal/model"
	"cityeye-service/internal/repository"
	"cityeye-service/internal/zone"
)

type ImageCapturer interface {
	Capture(ctx context.Context, token, deviceID string) (*capture.Image, error)
}

type ZoneService struct {
	sessions *zone.SessionStore
	devices  DeviceDirectory
	store    ZoneStore
	capturer ImageCapturer
	authz    Authorizer
	log      zerolog.Logger
	now      func() time.Time
}

func NewZoneService(sessions *zone.SessionStore, devices DeviceDirectory, store ZoneStore, capturer ImageCapturer, authorizer Authorizer, log zerolog.Logger) *ZoneService {
	return &ZoneService{
		sessions: sessions,
		devices:  devices,
		store:    store,
		capturer: capturer,
		authz:    authorizer,
		log:      log,
		now:      time.Now,
	}
}

// OpenSession starts editing the zones of deviceID. Previously submitted
// zones are loaded into the editor and a reference image capture is started
// in the background. mapCenter overrides the device location as the centre
// for default routes.
func (s *ZoneService) OpenSession(ctx context.Context, principal model.Principal, deviceID string, mapCenter *model.LatLng) (zone.SessionView, error) {
	if err := authorize(s.authz, principal, authz.ObjectZones, authz.ActionWrite); err != nil {
		return zone.SessionView{}, err
	}
	if deviceID == "" {
		return zone.SessionView{}, fmt.Errorf("%w: device_id is required", ErrInvalidRequest)
	}

	device, err := s.devices.GetDevice(ctx, principal.Token, deviceID)
	if err != nil {
		return zone.SessionView{}, err
	}
	if !model.ScopeFor(principal).AllowsDevice(*device) {
		return zone.SessionView{}, ErrPermissionDenied
	}

	center := model.LatLng{Lat: device.Latitude, Lng: device.Longitude}
	if mapCenter != nil {
		center = *mapCenter
	}

	session := s.sessions.Create(principal.UserID, deviceID, center)

	saved, err := s.store.LoadDetectionZones(ctx, deviceID)
	switch {
	case err == nil:
		if err := session.Edit(func(e *zone.Editor) error {
			return e.Load(editorZones(saved, e.Canvas()))
		}); err != nil {
			s.log.Warn().Err(err).Str("device_id", deviceID).Msg("ignoring unusable saved zones")
		}
	case errors.Is(err, repository.ErrNotFound):
	default:
		s.sessions.Close(session.ID)
		return zone.SessionView{}, fmt.Errorf("load saved zones: %w", err)
	}

	if allowed, _ := s.authz.Allowed(principal.Role, authz.ObjectCapture, authz.ActionWrite); allowed {
		s.startCapture(session, principal.Token)
	}

	s.log.Info().
		Str("session_id", session.ID.String()).
		Str("device_id", deviceID).
		Str("user_id", principal.UserID.String()).
		Msg("zone editor session opened")

	return session.View(), nil
}

func (s *ZoneService) View(principal model.Principal, id uuid.UUID) (zone.SessionView, error) {
	session, err := s.session(principal, id)
	if err != nil {
		return zone.SessionView{}, err
	}
	return session.View(), nil
}

func (s *ZoneService) CloseSession(principal model.Principal, id uuid.UUID) error {
	if _, err := s.session(principal, id); err != nil {
		return err
	}
	s.sessions.Close(id)
	return nil
}

func (s *ZoneService) AddZone(principal model.Principal, id uuid.UUID) (zone.SessionView, error) {
	return s.edit(principal, id, func(e *zone.Editor) error {
		_, err := e.AddZone()
		return err
	})
}

func (s *ZoneService) RemoveZone(principal model.Principal, id uuid.UUID, zoneID int) (zone.SessionView, error) {
	return s.edit(principal, id, func(e *zone.Editor) error {
		return e.RemoveZone(zoneID)
	})
}

func (s *ZoneService) ToggleVisibility(principal model.Principal, id uuid.UUID, zoneID int) (zone.SessionView, error) {
	return s.edit(principal, id, func(e *zone.Editor) error {
		return e.ToggleVisibility(zoneID)
	})
}

func (s *ZoneService) ToggleActive(principal model.Principal, id uuid.UUID, zoneID int) (zone.SessionView, error) {
	return s.edit(principal, id, func(e *zone.Editor) error {
		return e.ToggleActive(zoneID)
	})
}

func (s *ZoneService) RenameZone(principal model.Principal, id uuid.UUID, zoneID int, name string) (zone.SessionView, error) {
	return s.edit(principal, id, func(e *zone.Editor) error {
		return e.Rename(zoneID, name)
	})
}

func (s *ZoneService) MoveRouteMarker(principal model.Principal, id uuid.UUID, zoneID int, marker model.RouteMarker, to model.LatLng) (zone.SessionView, error) {
	return s.edit(principal, id, func(e *zone.Editor) error {
		return e.MoveRouteMarker(zoneID, marker, to)
	})
}

func (s *ZoneService) DragVertex(principal model.Principal, id uuid.UUID, vertexID string, dx, dy float64) (zone.SessionView, error) {
	return s.edit(principal, id, func(e *zone.Editor) error {
		return e.DragVertex(vertexID, dx, dy)
	})
}

// Submit scales every zone to the device's native resolution and stores the
// result as the device's detection zones.
func (s *ZoneService) Submit(ctx context.Context, principal model.Principal, id uuid.UUID, native model.Size) (*model.DetectionZones, error) {
	if native.Width <= 0 || native.Height <= 0 {
		return nil, fmt.Errorf("%w: native resolution must be positive", ErrInvalidRequest)
	}

	session, err := s.session(principal, id)
	if err != nil {
		return nil, err
	}

	payload := model.DetectionZones{
		DeviceID:    session.DeviceID,
		Native:      native,
		SubmittedBy: principal.UserID,
		SubmittedAt: s.now().UTC(),
	}
	if err := session.Edit(func(e *zone.Editor) error {
		payload.Canvas = e.Canvas()
		payload.Zones = e.Submit(native)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.store.SaveDetectionZones(ctx, payload); err != nil {
		metrics.ZoneSubmissionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("save detection zones: %w", err)
	}
	metrics.ZoneSubmissionsTotal.WithLabelValues("success").Inc()

	s.log.Info().
		Str("device_id", payload.DeviceID).
		Int("zones", len(payload.Zones)).
		Int("native_width", native.Width).
		Int("native_height", native.Height).
		Msg("detection zones submitted")

	return &payload, nil
}

func (s *ZoneService) RequestCapture(principal model.Principal, id uuid.UUID) (zone.CaptureStatus, error) {
	if err := authorize(s.authz, principal, authz.ObjectCapture, authz.ActionWrite); err != nil {
		return zone.CaptureStatus{}, err
	}
	session, err := s.session(principal, id)
	if err != nil {
		return zone.CaptureStatus{}, err
	}
	s.startCapture(session, principal.Token)
	return session.CaptureStatus(), nil
}

func (s *ZoneService) SubscribeCapture(principal model.Principal, id uuid.UUID) (<-chan zone.CaptureStatus, func(), error) {
	session, err := s.session(principal, id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.Subscribe()
	return ch, cancel, nil
}

func (s *ZoneService) Image(principal model.Principal, id uuid.UUID) (*capture.Image, error) {
	session, err := s.session(principal, id)
	if err != nil {
		return nil, err
	}
	img := session.Image()
	if img == nil || img.Released() {
		return nil, ErrNotFound
	}
	return img, nil
}

func (s *ZoneService) edit(principal model.Principal, id uuid.UUID, fn func(e *zone.Editor) error) (zone.SessionView, error) {
	session, err := s.session(principal, id)
	if err != nil {
		return zone.SessionView{}, err
	}
	if err := session.Edit(fn); err != nil {
		return zone.SessionView{}, err
	}
	return session.View(), nil
}

// session returns the caller's own session. Sessions of other users are
// reported as missing.
func (s *ZoneService) session(principal model.Principal, id uuid.UUID) (*zone.Session, error) {
	if err := authorize(s.authz, principal, authz.ObjectZones, authz.ActionWrite); err != nil {
		return nil, err
	}
	session, ok := s.sessions.Get(id)
	if !ok || session.OwnerID != principal.UserID {
		return nil, ErrNotFound
	}
	return session, nil
}

func (s *ZoneService) startCapture(session *zone.Session, token string) {
	deviceID := session.DeviceID
	session.StartCapture(func(ctx context.Context) (*capture.Image, error) {
		img, err := s.capturer.Capture(ctx, token, deviceID)
		if err != nil {
			s.log.Warn().Err(err).Str("device_id", deviceID).Msg("reference image capture failed")
		}
		return img, err
	})
}

// editorZones turns stored detection zones back into editable canvas zones.
// Canvas coordinates are reused when the canvas size is unchanged, otherwise
// the native vertices are scaled down to the current canvas.
func editorZones(saved *model.DetectionZones, canvas model.Size) []model.Zone {
	zones := make([]model.Zone, 0, len(saved.Zones))
	for _, dz := range saved.Zones {
		points := dz.CanvasVertices
		if saved.Canvas != canvas || len(points) == 0 {
			points = make([]model.Point, 0, len(dz.Vertices))
			for _, p := range dz.Vertices {
				points = append(points, geometry.ScalePoint(p, saved.Native, canvas))
			}
		}

		vertices := make([]model.Vertex, 0, len(points))
		for _, p := range points {
			vertices = append(vertices, model.Vertex{Point: p})
		}

		zones = append(zones, model.Zone{
			ID:       dz.ID,
			Name:     dz.Name,
			Vertices: vertices,
			Route:    dz.Route,
			Visible:  true,
		})
	}
	return zones
}
