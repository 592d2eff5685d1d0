package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cityeye-service/internal/model"
)

var ErrNotFound = errors.New("not found")

type detectionZoneSet struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	DeviceID     string    `gorm:"type:text;not null;uniqueIndex"`
	CanvasWidth  int       `gorm:"not null"`
	CanvasHeight int       `gorm:"not null"`
	NativeWidth  int       `gorm:"not null"`
	NativeHeight int       `gorm:"not null"`
	SubmittedBy  uuid.UUID `gorm:"type:uuid;not null"`
	SubmittedAt  time.Time `gorm:"not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`

	Zones []detectionZoneRecord `gorm:"foreignKey:SetID"`
}

func (detectionZoneSet) TableName() string {
	return "detection_zone_sets"
}

func (s *detectionZoneSet) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

type detectionZoneRecord struct {
	ID              uuid.UUID     `gorm:"type:uuid;primaryKey"`
	SetID           uuid.UUID     `gorm:"type:uuid;not null;index"`
	ZoneID          int           `gorm:"not null"`
	Name            string        `gorm:"type:varchar(10);not null"`
	Vertices        []model.Point `gorm:"type:jsonb;serializer:json;not null"`
	CanvasVertices  []model.Point `gorm:"type:jsonb;serializer:json;not null"`
	StartLat        float64       `gorm:"not null"`
	StartLng        float64       `gorm:"not null"`
	EndLat          float64       `gorm:"not null"`
	EndLng          float64       `gorm:"not null"`
	RouteBearingDeg float64       `gorm:"column:route_bearing_deg"`
	RouteDirection  string        `gorm:"type:varchar(2)"`
	RouteLengthM    float64       `gorm:"column:route_length_m"`
}

func (detectionZoneRecord) TableName() string {
	return "detection_zones"
}

func (z *detectionZoneRecord) BeforeCreate(tx *gorm.DB) error {
	if z.ID == uuid.Nil {
		z.ID = uuid.New()
	}
	return nil
}

type ZoneRepository struct {
	db *gorm.DB
}

func NewZoneRepository(db *gorm.DB) *ZoneRepository {
	return &ZoneRepository{db: db}
}

// SaveDetectionZones replaces the device's stored zone set.
func (r *ZoneRepository) SaveDetectionZones(ctx context.Context, zones model.DetectionZones) error {
	set := toRecord(zones)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing detectionZoneSet
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("device_id = ?", zones.DeviceID).
			Take(&existing).Error
		switch {
		case err == nil:
			set.ID = existing.ID
			if err := tx.Where("set_id = ?", existing.ID).Delete(&detectionZoneRecord{}).Error; err != nil {
				return fmt.Errorf("delete previous zones: %w", err)
			}
			if err := tx.Model(&existing).Updates(map[string]interface{}{
				"canvas_width":  set.CanvasWidth,
				"canvas_height": set.CanvasHeight,
				"native_width":  set.NativeWidth,
				"native_height": set.NativeHeight,
				"submitted_by":  set.SubmittedBy,
				"submitted_at":  set.SubmittedAt,
			}).Error; err != nil {
				return fmt.Errorf("update zone set: %w", err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			header := set
			header.Zones = nil
			if err := tx.Create(&header).Error; err != nil {
				return fmt.Errorf("create zone set: %w", err)
			}
			set.ID = header.ID
		default:
			return fmt.Errorf("lock zone set: %w", err)
		}

		if len(set.Zones) == 0 {
			return nil
		}
		for i := range set.Zones {
			set.Zones[i].SetID = set.ID
		}
		if err := tx.Create(&set.Zones).Error; err != nil {
			return fmt.Errorf("insert zones: %w", err)
		}
		return nil
	})
}

func (r *ZoneRepository) LoadDetectionZones(ctx context.Context, deviceID string) (*model.DetectionZones, error) {
	var set detectionZoneSet
	err := r.db.WithContext(ctx).
		Preload("Zones", func(db *gorm.DB) *gorm.DB {
			return db.Order("zone_id ASC")
		}).
		Where("device_id = ?", deviceID).
		Take(&set).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	out := fromRecord(set)
	return &out, nil
}

func toRecord(zones model.DetectionZones) detectionZoneSet {
	set := detectionZoneSet{
		DeviceID:     zones.DeviceID,
		CanvasWidth:  zones.Canvas.Width,
		CanvasHeight: zones.Canvas.Height,
		NativeWidth:  zones.Native.Width,
		NativeHeight: zones.Native.Height,
		SubmittedBy:  zones.SubmittedBy,
		SubmittedAt:  zones.SubmittedAt,
	}
	for _, z := range zones.Zones {
		set.Zones = append(set.Zones, detectionZoneRecord{
			ZoneID:          z.ID,
			Name:            z.Name,
			Vertices:        z.Vertices,
			CanvasVertices:  z.CanvasVertices,
			StartLat:        z.Route.StartPoint.Lat,
			StartLng:        z.Route.StartPoint.Lng,
			EndLat:          z.Route.EndPoint.Lat,
			EndLng:          z.Route.EndPoint.Lng,
			RouteBearingDeg: z.RouteBearing,
			RouteDirection:  z.RouteDirection,
			RouteLengthM:    z.RouteLengthM,
		})
	}
	return set
}

func fromRecord(set detectionZoneSet) model.DetectionZones {
	out := model.DetectionZones{
		DeviceID:    set.DeviceID,
		Canvas:      model.Size{Width: set.CanvasWidth, Height: set.CanvasHeight},
		Native:      model.Size{Width: set.NativeWidth, Height: set.NativeHeight},
		SubmittedBy: set.SubmittedBy,
		SubmittedAt: set.SubmittedAt,
		Zones:       make([]model.DetectionZone, 0, len(set.Zones)),
	}
	for _, z := range set.Zones {
		out.Zones = append(out.Zones, model.DetectionZone{
			ID:             z.ZoneID,
			Name:           z.Name,
			Vertices:       z.Vertices,
			CanvasVertices: z.CanvasVertices,
			Route: model.Route{
				StartPoint: model.LatLng{Lat: z.StartLat, Lng: z.StartLng},
				EndPoint:   model.LatLng{Lat: z.EndLat, Lng: z.EndLng},
			},
			RouteBearing:   z.RouteBearingDeg,
			RouteDirection: z.RouteDirection,
			RouteLengthM:   z.RouteLengthM,
		})
	}
	return out
}
