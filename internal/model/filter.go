package model

import "time"

type Tab string

const (
	TabPeopleFlow  Tab = "people"
	TabTrafficFlow Tab = "traffic"
)

func (t Tab) Valid() bool {
	return t == TabPeopleFlow || t == TabTrafficFlow
}

type Period string

const (
	PeriodMain       Period = "main"
	PeriodComparison Period = "comparison"
)

const DateLayout = "2006-01-02"

// Date is a calendar date without a time zone, encoded as YYYY-MM-DD.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) *Date {
	return &Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(DateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if raw == "null" || raw == `""` {
		d.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(`"`+DateLayout+`"`, raw)
	if err != nil {
		return err
	}
	d.Time = parsed
	return nil
}

// In returns the calendar date at midnight in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

type DateRange struct {
	From *Date `json:"from"`
	To   *Date `json:"to"`
}

func (r DateRange) Complete() bool {
	return r.From != nil && !r.From.IsZero() && r.To != nil && !r.To.IsZero()
}

type AnalyticsFilters struct {
	AnalysisPeriod       DateRange `json:"analysis_period"`
	ComparisonPeriod     DateRange `json:"comparison_period"`
	SelectedDays         []string  `json:"selected_days" validate:"dive,oneof=monday tuesday wednesday thursday friday saturday sunday"`
	SelectedHours        []string  `json:"selected_hours" validate:"dive,hour_slot"`
	SelectedDevices      []string  `json:"selected_devices" validate:"dive,required"`
	SelectedAges         []string  `json:"selected_ages" validate:"dive,oneof=0-17 18-24 25-34 35-44 45-54 55-64 65+"`
	SelectedGenders      []string  `json:"selected_genders" validate:"dive,oneof=male female"`
	SelectedTrafficTypes []string  `json:"selected_traffic_types" validate:"dive,oneof=car truck bus motorcycle bicycle"`
}

func (f AnalyticsFilters) Period(p Period) DateRange {
	if p == PeriodComparison {
		return f.ComparisonPeriod
	}
	return f.AnalysisPeriod
}

const QueryTimeLayout = "2006-01-02T15:04:05"

// AnalyticsQuery is the normalized request body sent to the platform.
type AnalyticsQuery struct {
	Type         Tab      `json:"type"`
	StartTime    string   `json:"start_time"`
	EndTime      string   `json:"end_time"`
	Days         []string `json:"days,omitempty"`
	Hours        []string `json:"hours,omitempty"`
	DeviceIDs    []string `json:"device_ids"`
	Ages         []string `json:"ages,omitempty"`
	Genders      []string `json:"genders,omitempty"`
	TrafficTypes []string `json:"traffic_types,omitempty"`
}

type Metric string

const (
	MetricTotalCount         Metric = "total_count"
	MetricPerDevice          Metric = "per_device"
	MetricAgeDistribution    Metric = "age_distribution"
	MetricGenderDistribution Metric = "gender_distribution"
	MetricHourlyDistribution Metric = "hourly_distribution"
	MetricVehicleTypes       Metric = "vehicle_type_distribution"
)

func DefaultMetrics(tab Tab) []Metric {
	if tab == TabTrafficFlow {
		return []Metric{MetricTotalCount, MetricPerDevice, MetricVehicleTypes, MetricHourlyDistribution}
	}
	return []Metric{MetricTotalCount, MetricPerDevice, MetricAgeDistribution, MetricGenderDistribution, MetricHourlyDistribution}
}

type AnalyticsRequest struct {
	AnalyticsQuery
	Metrics []Metric `json:"metrics"`
}

func (m Metric) Valid() bool {
	switch m {
	case MetricTotalCount, MetricPerDevice, MetricAgeDistribution, MetricGenderDistribution, MetricHourlyDistribution, MetricVehicleTypes:
		return true
	}
	return false
}
