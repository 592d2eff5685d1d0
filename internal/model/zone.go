package model

import (
	"time"

	"github.com/google/uuid"
)

const MaxZoneNameLength = 10

type Size struct {
	Width  int `json:"width" binding:"required,min=1"`
	Height int `json:"height" binding:"required,min=1"`
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type Vertex struct {
	ID string `json:"id"`
	Point
}

type LatLng struct {
	Lat float64 `json:"lat" binding:"latitude"`
	Lng float64 `json:"lng" binding:"longitude"`
}

type RouteMarker string

const (
	RouteStart RouteMarker = "start"
	RouteEnd   RouteMarker = "end"
)

func (m RouteMarker) Valid() bool {
	return m == RouteStart || m == RouteEnd
}

type Route struct {
	StartPoint LatLng `json:"start_point"`
	EndPoint   LatLng `json:"end_point"`
}

type Zone struct {
	ID       int      `json:"id"`
	Name     string   `json:"name"`
	Vertices []Vertex `json:"vertices"`
	Route    Route    `json:"route"`
	Visible  bool     `json:"visible"`
}

// ZoneView is a zone as rendered by the editor, with the derived UI flags.
type ZoneView struct {
	Zone
	Active    bool `json:"active"`
	Draggable bool `json:"draggable"`
}

type DetectionZone struct {
	ID             int     `json:"id"`
	Name           string  `json:"name"`
	Vertices       []Point `json:"vertices"`
	CanvasVertices []Point `json:"canvas_vertices"`
	Route          Route   `json:"route"`
	RouteBearing   float64 `json:"route_bearing_deg"`
	RouteDirection string  `json:"route_direction"`
	RouteLengthM   float64 `json:"route_length_m"`
}

type DetectionZones struct {
	DeviceID    string          `json:"device_id"`
	Canvas      Size            `json:"canvas"`
	Native      Size            `json:"native"`
	Zones       []DetectionZone `json:"detection_zones"`
	SubmittedBy uuid.UUID       `json:"submitted_by"`
	SubmittedAt time.Time       `json:"submitted_at"`
}
