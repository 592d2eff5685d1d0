// Package filter turns the facets selected on the analytics dashboard into a
// normalized platform query.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"cityeye-service/internal/model"
)

var (
	ErrPeriodIncomplete = errors.New("select both a start and an end date")
	ErrPeriodInverted   = errors.New("start date is after end date")
	ErrNoDevices        = errors.New("select at least one device")
	ErrInvalidFacet     = errors.New("invalid filter value")
)

var hourSlot = regexp.MustCompile(`^([01][0-9]|2[0-3]):00$`)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func facetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("hour_slot", func(fl validator.FieldLevel) bool {
			return hourSlot.MatchString(fl.Field().String())
		})
	})
	return validate
}

// Validate checks the filters for the given tab and period and returns the
// query to send. It performs no I/O; callers decide how to surface errors.
func Validate(filters model.AnalyticsFilters, tab model.Tab, period model.Period, loc *time.Location) (*model.AnalyticsQuery, error) {
	if loc == nil {
		loc = time.Local
	}

	rng := filters.Period(period)
	if !rng.Complete() {
		return nil, ErrPeriodIncomplete
	}
	if len(filters.SelectedDevices) == 0 {
		return nil, ErrNoDevices
	}
	if err := facetValidator().Struct(filters); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFacet, describe(err))
	}

	start := rng.From.In(loc)
	end := endOfDay(rng.To.In(loc))
	if start.After(end) {
		return nil, ErrPeriodInverted
	}

	query := &model.AnalyticsQuery{
		Type:      tab,
		StartTime: start.Format(model.QueryTimeLayout),
		EndTime:   end.Format(model.QueryTimeLayout),
		Days:      clone(filters.SelectedDays),
		Hours:     clone(filters.SelectedHours),
		DeviceIDs: clone(filters.SelectedDevices),
	}
	switch tab {
	case model.TabPeopleFlow:
		query.Ages = clone(filters.SelectedAges)
		query.Genders = clone(filters.SelectedGenders)
	case model.TabTrafficFlow:
		query.TrafficTypes = clone(filters.SelectedTrafficTypes)
	}

	return query, nil
}

// ApplyDefaultDevices selects every device when the client never made a
// device selection. An explicit empty selection is kept.
func ApplyDefaultDevices(filters model.AnalyticsFilters, devices []model.Device) model.AnalyticsFilters {
	if filters.SelectedDevices != nil {
		return filters
	}
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	filters.SelectedDevices = ids
	return filters
}

func endOfDay(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, day.Location())
}

func describe(err error) string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return err.Error()
	}
	fe := fieldErrors[0]
	return fmt.Sprintf("%s has unsupported value %v", fe.Field(), fe.Value())
}

func clone(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
