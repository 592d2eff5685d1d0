package repository

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"cityeye-service/internal/model"
)

func TestRecordMappingPreservesZones(t *testing.T) {
	in := model.DetectionZones{
		DeviceID:    "cam-1",
		Canvas:      model.Size{Width: 640, Height: 360},
		Native:      model.Size{Width: 1920, Height: 1080},
		SubmittedBy: uuid.New(),
		SubmittedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Zones: []model.DetectionZone{
			{
				ID:             2,
				Name:           "Gate",
				Vertices:       []model.Point{{X: 30, Y: 30}, {X: 300, Y: 30}},
				CanvasVertices: []model.Point{{X: 10, Y: 10}, {X: 100, Y: 10}},
				Route: model.Route{
					StartPoint: model.LatLng{Lat: 35.0, Lng: 139.0},
					EndPoint:   model.LatLng{Lat: 35.0005, Lng: 139.0},
				},
				RouteBearing:   0,
				RouteDirection: "N",
				RouteLengthM:   55.6,
			},
		},
	}

	set := toRecord(in)
	if set.DeviceID != "cam-1" || len(set.Zones) != 1 || set.Zones[0].ZoneID != 2 {
		t.Fatalf("unexpected record %+v", set)
	}

	out := fromRecord(set)
	if !reflect.DeepEqual(in, out) {
		t.Errorf("mapping lost data:\n in  %+v\n out %+v", in, out)
	}
}

func TestFromRecordEmptySet(t *testing.T) {
	out := fromRecord(detectionZoneSet{DeviceID: "cam-2"})
	if out.Zones == nil || len(out.Zones) != 0 {
		t.Errorf("expected empty, non-nil zones, got %#v", out.Zones)
	}
}

func TestTableNames(t *testing.T) {
	if (detectionZoneSet{}).TableName() != "detection_zone_sets" {
		t.Error("zone set table")
	}
	if (detectionZoneRecord{}).TableName() != "detection_zones" {
		t.Error("zone table")
	}
}
