// Package trend classifies the direction of each monitored parameter over a
// bounded window of historical readings.
package trend

import (
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/chemviz/equipment-monitor/internal/models"
)

// Window sizes selectable by the caller, in days.
const (
	Window7  = 7
	Window30 = 30
	Window90 = 90
)

// DefaultWindow is used when the caller does not select one.
const DefaultWindow = Window30

// deadBand is the relative change below which a parameter counts as stable.
const deadBand = 0.05

// ValidWindow reports whether days is one of the supported window sizes.
func ValidWindow(days int) bool {
	return days == Window7 || days == Window30 || days == Window90
}

// Analyze yields one summary per equipment unit present in the window,
// ordered by equipment name. The sequence is lazy and restartable; ranging
// over it twice re-yields the same summaries.
func Analyze(history []models.Reading, windowDays int, now time.Time) iter.Seq[models.TrendSummary] {
	cutoff := now.AddDate(0, 0, -windowDays)

	grouped := map[string][]models.Reading{}
	for _, r := range history {
		if r.RecordedAt.Before(cutoff) {
			continue
		}
		grouped[r.EquipmentName] = append(grouped[r.EquipmentName], r)
	}

	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(yield func(models.TrendSummary) bool) {
		for _, name := range names {
			if !yield(summarize(name, grouped[name])) {
				return
			}
		}
	}
}

// ForEquipment classifies a single unit inside the window. Fewer than two
// readings cannot be classified and fail with ErrInsufficientData; callers
// must not confuse that with a stable trend.
func ForEquipment(history []models.Reading, equipment string, windowDays int, now time.Time) (models.TrendSummary, error) {
	cutoff := now.AddDate(0, 0, -windowDays)
	var readings []models.Reading
	for _, r := range history {
		if r.EquipmentName == equipment && !r.RecordedAt.Before(cutoff) {
			readings = append(readings, r)
		}
	}
	if len(readings) < 2 {
		return models.TrendSummary{}, fmt.Errorf("%w: %d readings for %q in %d-day window",
			models.ErrInsufficientData, len(readings), equipment, windowDays)
	}
	return summarize(equipment, readings), nil
}

func summarize(name string, readings []models.Reading) models.TrendSummary {
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].RecordedAt.Before(readings[j].RecordedAt)
	})

	summary := models.TrendSummary{
		EquipmentName: name,
		DataPoints:    len(readings),
	}
	if len(readings) > 0 {
		summary.EquipmentType = readings[len(readings)-1].EquipmentType
	}
	if len(readings) < 2 {
		summary.PressureTrend = models.TrendInsufficientData
		summary.TemperatureTrend = models.TrendInsufficientData
		return summary
	}

	summary.PressureTrend = classify(readings, func(r models.Reading) float64 { return r.Pressure })
	summary.TemperatureTrend = classify(readings, func(r models.Reading) float64 { return r.Temperature })
	return summary
}

// classify compares the mean of the oldest third of the window with the mean
// of the newest third. A relative change beyond the dead-band is a trend.
func classify(readings []models.Reading, value func(models.Reading) float64) models.TrendDirection {
	n := len(readings)
	third := n / 3
	if third < 1 {
		third = 1
	}

	first := mean(readings[:third], value)
	last := mean(readings[n-third:], value)

	switch {
	case last > first*(1+deadBand):
		return models.TrendIncreasing
	case last < first*(1-deadBand):
		return models.TrendDecreasing
	default:
		return models.TrendStable
	}
}

func mean(readings []models.Reading, value func(models.Reading) float64) float64 {
	sum := 0.0
	for _, r := range readings {
		sum += value(r)
	}
	return sum / float64(len(readings))
}
