// Package geometry converts editor coordinates to device coordinates and
// measures the direction routes drawn on the map.
package geometry

import (
	"math"

	"cityeye-service/internal/model"
)

// ScalePoint maps a point on the fixed editor canvas to the device's native
// image resolution, rounding to the nearest pixel.
func ScalePoint(p model.Point, canvas, target model.Size) model.Point {
	if canvas.Width <= 0 || canvas.Height <= 0 {
		return model.Point{}
	}
	return model.Point{
		X: int(math.Round(float64(p.X) / float64(canvas.Width) * float64(target.Width))),
		Y: int(math.Round(float64(p.Y) / float64(canvas.Height) * float64(target.Height))),
	}
}

func ScaleVertices(vertices []model.Vertex, canvas, target model.Size) []model.Point {
	result := make([]model.Point, 0, len(vertices))
	for _, v := range vertices {
		result = append(result, ScalePoint(v.Point, canvas, target))
	}
	return result
}

func CanvasPoints(vertices []model.Vertex) []model.Point {
	result := make([]model.Point, 0, len(vertices))
	for _, v := range vertices {
		result = append(result, v.Point)
	}
	return result
}
