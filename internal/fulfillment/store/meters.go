package store

import "math"

// Meters cross the API as float64 but the ledger measures them at millimeter
// resolution. All counter arithmetic goes through the integer millimeter domain,
// so sums of decimal inputs such as 0.1 and 0.2 stay exact and releasing every
// reservation brings reserved_meters back to exactly zero.
const millisPerMeter = 1000

func toMillis(meters float64) int64 {
	return int64(math.Round(meters * millisPerMeter))
}

func fromMillis(mm int64) float64 {
	return float64(mm) / millisPerMeter
}

// quantizeMeters rounds a meter value to the ledger's millimeter resolution,
// matching the NUMERIC(12,3) scale of the roll and reservation columns.
func quantizeMeters(meters float64) float64 {
	return fromMillis(toMillis(meters))
}
