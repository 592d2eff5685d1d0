package model

type Device struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	SolutionID string  `json:"solution_id"`
	CustomerID string  `json:"customer_id,omitempty"`
	Status     string  `json:"status,omitempty"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
}

// DeviceAnalytics is one device's slice of an analytics response. A device
// that failed upstream carries Error and no counts.
type DeviceAnalytics struct {
	DeviceID                string           `json:"device_id"`
	DeviceName              string           `json:"device_name"`
	Error                   string           `json:"error,omitempty"`
	TotalCount              *int64           `json:"total_count"`
	AgeDistribution         map[string]int64 `json:"age_distribution,omitempty"`
	GenderDistribution      map[string]int64 `json:"gender_distribution,omitempty"`
	HourlyDistribution      map[string]int64 `json:"hourly_distribution,omitempty"`
	VehicleTypeDistribution map[string]int64 `json:"vehicle_type_distribution,omitempty"`
}

func (d DeviceAnalytics) Failed() bool {
	return d.Error != ""
}

type AnalyticsResponse struct {
	Devices []DeviceAnalytics `json:"devices"`
}

const NotAvailable = "N/A"

type DeviceBreakdown struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Count      *int64 `json:"count"`
	Display    string `json:"display"`
	Errored    bool   `json:"errored"`
	Error      string `json:"error,omitempty"`
}

type CategoryCount struct {
	Category string  `json:"category"`
	Count    int64   `json:"count"`
	Share    float64 `json:"share"`
}

type HourlyCount struct {
	Hour  string `json:"hour"`
	Count int64  `json:"count"`
}

type PeopleFlowDashboard struct {
	Total     int64             `json:"total"`
	PerDevice []DeviceBreakdown `json:"per_device"`
	ByAge     []CategoryCount   `json:"by_age"`
	ByGender  []CategoryCount   `json:"by_gender"`
	Hourly    []HourlyCount     `json:"hourly"`
}

type TrafficFlowDashboard struct {
	Total         int64             `json:"total"`
	PerDevice     []DeviceBreakdown `json:"per_device"`
	ByVehicleType []CategoryCount   `json:"by_vehicle_type"`
	Hourly        []HourlyCount     `json:"hourly"`
}

type Comparison struct {
	MainTotal       int64    `json:"main_total"`
	ComparisonTotal int64    `json:"comparison_total"`
	Difference      int64    `json:"difference"`
	ChangePercent   *float64 `json:"change_percent"`
}
