// Package shaping aggregates per-device analytics into the structures the
// dashboard charts render. Devices that failed upstream stay visible as
// "N/A" rows but never contribute to totals or distributions.
package shaping

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"cityeye-service/internal/model"
)

var (
	AgeBands     = []string{"0-17", "18-24", "25-34", "35-44", "45-54", "55-64", "65+"}
	Genders      = []string{"male", "female"}
	VehicleTypes = []string{"car", "truck", "bus", "motorcycle", "bicycle"}
)

func Total(devices []model.DeviceAnalytics) int64 {
	var total int64
	for _, d := range devices {
		if d.Failed() || d.TotalCount == nil {
			continue
		}
		total += *d.TotalCount
	}
	return total
}

func PerDevice(devices []model.DeviceAnalytics) []model.DeviceBreakdown {
	rows := make([]model.DeviceBreakdown, 0, len(devices))
	for _, d := range devices {
		row := model.DeviceBreakdown{
			DeviceID:   d.DeviceID,
			DeviceName: d.DeviceName,
			Display:    model.NotAvailable,
		}
		if d.DeviceName == "" {
			row.DeviceName = d.DeviceID
		}
		switch {
		case d.Failed():
			row.Errored = true
			row.Error = d.Error
		case d.TotalCount != nil:
			count := *d.TotalCount
			row.Count = &count
			row.Display = strconv.FormatInt(count, 10)
		}
		rows = append(rows, row)
	}
	return rows
}

// ByCategory sums the distribution picked from each healthy device. Known
// categories come first in the given order, including empty ones; others
// follow alphabetically.
func ByCategory(devices []model.DeviceAnalytics, pick func(model.DeviceAnalytics) map[string]int64, order []string) []model.CategoryCount {
	sums := make(map[string]int64)
	var total int64
	for _, d := range devices {
		if d.Failed() {
			continue
		}
		for category, count := range pick(d) {
			key := strings.ToLower(strings.TrimSpace(category))
			sums[key] += count
			total += count
		}
	}

	result := make([]model.CategoryCount, 0, len(order)+len(sums))
	known := make(map[string]struct{}, len(order))
	for _, category := range order {
		known[category] = struct{}{}
		result = append(result, categoryCount(category, sums[category], total))
	}

	var extra []string
	for category := range sums {
		if _, ok := known[category]; !ok {
			extra = append(extra, category)
		}
	}
	sort.Strings(extra)
	for _, category := range extra {
		result = append(result, categoryCount(category, sums[category], total))
	}
	return result
}

// Hourly returns 24 buckets, 00:00 to 23:00, summed across healthy devices.
// Hours that cannot be parsed are ignored.
func Hourly(devices []model.DeviceAnalytics) []model.HourlyCount {
	var buckets [24]int64
	for _, d := range devices {
		if d.Failed() {
			continue
		}
		for key, count := range d.HourlyDistribution {
			hour, ok := parseHour(key)
			if !ok {
				continue
			}
			buckets[hour] += count
		}
	}

	result := make([]model.HourlyCount, 0, len(buckets))
	for hour, count := range buckets {
		result = append(result, model.HourlyCount{Hour: HourLabel(hour), Count: count})
	}
	return result
}

func PeopleFlow(resp *model.AnalyticsResponse) *model.PeopleFlowDashboard {
	if resp == nil {
		return nil
	}
	return &model.PeopleFlowDashboard{
		Total:     Total(resp.Devices),
		PerDevice: PerDevice(resp.Devices),
		ByAge:     ByCategory(resp.Devices, ages, AgeBands),
		ByGender:  ByCategory(resp.Devices, genders, Genders),
		Hourly:    Hourly(resp.Devices),
	}
}

func TrafficFlow(resp *model.AnalyticsResponse) *model.TrafficFlowDashboard {
	if resp == nil {
		return nil
	}
	return &model.TrafficFlowDashboard{
		Total:         Total(resp.Devices),
		PerDevice:     PerDevice(resp.Devices),
		ByVehicleType: ByCategory(resp.Devices, vehicleTypes, VehicleTypes),
		Hourly:        Hourly(resp.Devices),
	}
}

// Compare reports the change of the main period against the comparison
// period. ChangePercent is nil when the comparison total is zero.
func Compare(mainTotal, comparisonTotal int64) model.Comparison {
	result := model.Comparison{
		MainTotal:       mainTotal,
		ComparisonTotal: comparisonTotal,
		Difference:      mainTotal - comparisonTotal,
	}
	if comparisonTotal != 0 {
		pct := round2(float64(result.Difference) / float64(comparisonTotal) * 100)
		result.ChangePercent = &pct
	}
	return result
}

func HourLabel(hour int) string {
	return fmt.Sprintf("%02d:00", hour)
}

func parseHour(key string) (int, bool) {
	key = strings.TrimSpace(key)
	if idx := strings.IndexByte(key, ':'); idx >= 0 {
		key = key[:idx]
	}
	hour, err := strconv.Atoi(key)
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	return hour, true
}

func categoryCount(category string, count, total int64) model.CategoryCount {
	share := 0.0
	if total > 0 {
		share = round2(float64(count) / float64(total))
	}
	return model.CategoryCount{Category: category, Count: count, Share: share}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func ages(d model.DeviceAnalytics) map[string]int64 {
	return d.AgeDistribution
}

func genders(d model.DeviceAnalytics) map[string]int64 {
	return d.GenderDistribution
}

func vehicleTypes(d model.DeviceAnalytics) map[string]int64 {
	return d.VehicleTypeDistribution
}
