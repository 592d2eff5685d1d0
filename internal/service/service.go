package service

import (
	"context"
	"errors"
	"fmt"

	"cityeye-service/internal/authz"
	"cityeye-service/internal/model"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrInvalidFilters   = errors.New("invalid filters")
	ErrInvalidRequest   = errors.New("invalid request")
)

type Authorizer interface {
	Allowed(role model.UserRole, obj authz.Object, act authz.Action) (bool, error)
}

type DeviceDirectory interface {
	ListSolutionDevices(ctx context.Context, token, solutionID string) ([]model.Device, error)
	GetDevice(ctx context.Context, token, deviceID string) (*model.Device, error)
}

type AnalyticsSource interface {
	QueryAnalytics(ctx context.Context, token string, req model.AnalyticsRequest) (*model.AnalyticsResponse, error)
}

type ZoneStore interface {
	SaveDetectionZones(ctx context.Context, zones model.DetectionZones) error
	LoadDetectionZones(ctx context.Context, deviceID string) (*model.DetectionZones, error)
}

func authorize(a Authorizer, principal model.Principal, obj authz.Object, act authz.Action) error {
	allowed, err := a.Allowed(principal.Role, obj, act)
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	if !allowed {
		return ErrPermissionDenied
	}
	return nil
}
