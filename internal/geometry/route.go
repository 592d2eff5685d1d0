package geometry

import (
	"math"

	"github.com/golang/geo/s2"

	"cityeye-service/internal/model"
)

const EarthRadiusMeters = 6371000.0

var compassPoints = []string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// RouteLength returns the great-circle length of the route in meters.
func RouteLength(route model.Route) float64 {
	start := s2.LatLngFromDegrees(route.StartPoint.Lat, route.StartPoint.Lng)
	end := s2.LatLngFromDegrees(route.EndPoint.Lat, route.EndPoint.Lng)
	return start.Distance(end).Radians() * EarthRadiusMeters
}

// RouteBearing returns the initial bearing from start to end in degrees,
// 0 is north and 90 is east.
func RouteBearing(route model.Route) float64 {
	start := s2.LatLngFromDegrees(route.StartPoint.Lat, route.StartPoint.Lng)
	end := s2.LatLngFromDegrees(route.EndPoint.Lat, route.EndPoint.Lng)

	lat1 := start.Lat.Radians()
	lat2 := end.Lat.Radians()
	lngDiff := end.Lng.Radians() - start.Lng.Radians()

	y := math.Sin(lngDiff) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(lngDiff)

	return math.Mod(math.Atan2(y, x)*180/math.Pi+360, 360)
}

// CompassDirection names the 8-point compass sector of a bearing.
func CompassDirection(bearing float64) string {
	normalized := math.Mod(math.Mod(bearing, 360)+360, 360)
	index := int(math.Floor((normalized+22.5)/45)) % len(compassPoints)
	return compassPoints[index]
}
