// Package zone holds the detection zone editor: the in-memory set of zones a
// user is drawing over a camera image, and the sessions that own them.
package zone

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"cityeye-service/internal/geometry"
	"cityeye-service/internal/model"
)

const (
	DefaultMaxZones     = 8
	defaultVertexCount  = 4
	defaultRouteSpanDeg = 0.0005
	seedOffsetPx        = 10
)

var (
	ErrZoneLimit      = errors.New("zone limit reached")
	ErrZoneNotFound   = errors.New("zone not found")
	ErrVertexNotFound = errors.New("vertex not found")
	ErrNameTooLong    = fmt.Errorf("zone name exceeds %d characters", model.MaxZoneNameLength)
	ErrInvalidMarker  = errors.New("route marker must be start or end")
)

// ActiveZone is either "no zone active" or "zone K active". The editor keeps
// a single value of it, so two zones can never be active together.
type ActiveZone struct {
	id  int
	set bool
}

func NoActiveZone() ActiveZone {
	return ActiveZone{}
}

func ActiveZoneOf(id int) ActiveZone {
	return ActiveZone{id: id, set: true}
}

func (a ActiveZone) ID() (int, bool) {
	return a.id, a.set
}

func (a ActiveZone) Is(id int) bool {
	return a.set && a.id == id
}

type Options struct {
	Canvas    model.Size
	MaxZones  int
	MapCenter model.LatLng
}

type Editor struct {
	opts   Options
	zones  []model.Zone
	active ActiveZone
}

func NewEditor(opts Options) *Editor {
	if opts.MaxZones <= 0 {
		opts.MaxZones = DefaultMaxZones
	}
	return &Editor{opts: opts}
}

func (e *Editor) Canvas() model.Size {
	return e.opts.Canvas
}

func (e *Editor) Active() ActiveZone {
	return e.active
}

func (e *Editor) Len() int {
	return len(e.zones)
}

// Zone returns a copy of the zone with the given id.
func (e *Editor) Zone(id int) (model.Zone, bool) {
	idx := e.indexOf(id)
	if idx < 0 {
		return model.Zone{}, false
	}
	return cloneZone(e.zones[idx]), true
}

func (e *Editor) Zones() []model.Zone {
	result := make([]model.Zone, 0, len(e.zones))
	for _, z := range e.zones {
		result = append(result, cloneZone(z))
	}
	return result
}

// Load replaces the editor contents with previously saved zones. No zone is
// active afterwards.
func (e *Editor) Load(zones []model.Zone) error {
	if len(zones) > e.opts.MaxZones {
		return ErrZoneLimit
	}
	seen := make(map[int]struct{}, len(zones))
	loaded := make([]model.Zone, 0, len(zones))
	for _, z := range zones {
		if z.ID <= 0 {
			return fmt.Errorf("invalid zone id %d", z.ID)
		}
		if _, dup := seen[z.ID]; dup {
			return fmt.Errorf("duplicate zone id %d", z.ID)
		}
		seen[z.ID] = struct{}{}
		z = cloneZone(z)
		for i := range z.Vertices {
			z.Vertices[i].ID = vertexID(z.ID, i)
		}
		loaded = append(loaded, z)
	}
	e.zones = loaded
	e.active = NoActiveZone()
	return nil
}

// AddZone creates a zone with the lowest free id, seeded as a rectangle, and
// makes it the active zone. At the zone limit the editor is left unchanged.
func (e *Editor) AddZone() (model.Zone, error) {
	if len(e.zones) >= e.opts.MaxZones {
		return model.Zone{}, ErrZoneLimit
	}

	id := e.nextID()
	z := model.Zone{
		ID:       id,
		Name:     fmt.Sprintf("Zone %d", id),
		Vertices: e.defaultVertices(id),
		Route:    e.defaultRoute(id),
		Visible:  true,
	}
	e.zones = append(e.zones, z)
	e.active = ActiveZoneOf(id)

	return cloneZone(z), nil
}

func (e *Editor) RemoveZone(id int) error {
	idx := e.indexOf(id)
	if idx < 0 {
		return ErrZoneNotFound
	}
	e.zones = append(e.zones[:idx], e.zones[idx+1:]...)
	if e.active.Is(id) {
		e.active = NoActiveZone()
	}
	return nil
}

func (e *Editor) ToggleVisibility(id int) error {
	idx := e.indexOf(id)
	if idx < 0 {
		return ErrZoneNotFound
	}
	e.zones[idx].Visible = !e.zones[idx].Visible
	return nil
}

func (e *Editor) ToggleActive(id int) error {
	if e.indexOf(id) < 0 {
		return ErrZoneNotFound
	}
	if e.active.Is(id) {
		e.active = NoActiveZone()
		return nil
	}
	e.active = ActiveZoneOf(id)
	return nil
}

// DragVertex moves the vertex with the given id by the rounded drag delta.
// The lookup is by vertex id across all zones and does not consult the
// active zone.
func (e *Editor) DragVertex(vertexID string, dx, dy float64) error {
	for zi := range e.zones {
		for vi := range e.zones[zi].Vertices {
			v := &e.zones[zi].Vertices[vi]
			if v.ID != vertexID {
				continue
			}
			v.X += int(math.Round(dx))
			v.Y += int(math.Round(dy))
			return nil
		}
	}
	return ErrVertexNotFound
}

func (e *Editor) Rename(id int, name string) error {
	if utf8.RuneCountInString(name) > model.MaxZoneNameLength {
		return ErrNameTooLong
	}
	idx := e.indexOf(id)
	if idx < 0 {
		return ErrZoneNotFound
	}
	e.zones[idx].Name = name
	return nil
}

func (e *Editor) MoveRouteMarker(id int, marker model.RouteMarker, to model.LatLng) error {
	if !marker.Valid() {
		return ErrInvalidMarker
	}
	idx := e.indexOf(id)
	if idx < 0 {
		return ErrZoneNotFound
	}
	if marker == model.RouteStart {
		e.zones[idx].Route.StartPoint = to
	} else {
		e.zones[idx].Route.EndPoint = to
	}
	return nil
}

// Submit converts every zone to the device's native resolution.
func (e *Editor) Submit(native model.Size) []model.DetectionZone {
	result := make([]model.DetectionZone, 0, len(e.zones))
	for _, z := range e.zones {
		bearing := geometry.RouteBearing(z.Route)
		result = append(result, model.DetectionZone{
			ID:             z.ID,
			Name:           z.Name,
			Vertices:       geometry.ScaleVertices(z.Vertices, e.opts.Canvas, native),
			CanvasVertices: geometry.CanvasPoints(z.Vertices),
			Route:          z.Route,
			RouteBearing:   bearing,
			RouteDirection: geometry.CompassDirection(bearing),
			RouteLengthM:   geometry.RouteLength(z.Route),
		})
	}
	return result
}

// Snapshot renders the zones with their active and draggable flags. Only the
// active zone exposes draggable vertices and route markers.
func (e *Editor) Snapshot() []model.ZoneView {
	result := make([]model.ZoneView, 0, len(e.zones))
	for _, z := range e.zones {
		active := e.active.Is(z.ID)
		result = append(result, model.ZoneView{
			Zone:      cloneZone(z),
			Active:    active,
			Draggable: active && z.Visible,
		})
	}
	return result
}

func (e *Editor) indexOf(id int) int {
	for i, z := range e.zones {
		if z.ID == id {
			return i
		}
	}
	return -1
}

func (e *Editor) nextID() int {
	used := make(map[int]struct{}, len(e.zones))
	for _, z := range e.zones {
		used[z.ID] = struct{}{}
	}
	id := 1
	for {
		if _, taken := used[id]; !taken {
			return id
		}
		id++
	}
}

func (e *Editor) defaultVertices(id int) []model.Vertex {
	w, h := e.opts.Canvas.Width/4, e.opts.Canvas.Height/4
	x0 := w + (id-1)*seedOffsetPx
	y0 := h + (id-1)*seedOffsetPx
	corners := [defaultVertexCount]model.Point{
		{X: x0, Y: y0},
		{X: x0 + w, Y: y0},
		{X: x0 + w, Y: y0 + h},
		{X: x0, Y: y0 + h},
	}
	vertices := make([]model.Vertex, 0, defaultVertexCount)
	for i, p := range corners {
		vertices = append(vertices, model.Vertex{ID: vertexID(id, i), Point: p})
	}
	return vertices
}

func (e *Editor) defaultRoute(id int) model.Route {
	shift := float64(id-1) * defaultRouteSpanDeg / 5
	start := model.LatLng{Lat: e.opts.MapCenter.Lat, Lng: e.opts.MapCenter.Lng + shift}
	return model.Route{
		StartPoint: start,
		EndPoint:   model.LatLng{Lat: start.Lat + defaultRouteSpanDeg, Lng: start.Lng},
	}
}

func vertexID(zoneID, index int) string {
	return fmt.Sprintf("%d-%d", zoneID, index)
}

func cloneZone(z model.Zone) model.Zone {
	vertices := make([]model.Vertex, len(z.Vertices))
	copy(vertices, z.Vertices)
	z.Vertices = vertices
	return z
}
