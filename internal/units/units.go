// Package units provides shared constants, validation and conversion for
// distance display units. Distances are measured and stored in centimetres.
package units

// Unit constants
const (
	CM = "cm"
	MM = "mm"
	M  = "m"
	IN = "in"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{CM, MM, M, IN}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "cm, mm, m, in"
}

// ConvertDistance converts a distance from centimetres to the target units.
// Unknown units leave the value in centimetres.
func ConvertDistance(distanceCM float64, targetUnits string) float64 {
	switch targetUnits {
	case MM:
		return distanceCM * 10
	case M:
		return distanceCM / 100
	case IN:
		return distanceCM / 2.54
	default:
		return distanceCM
	}
}

// Label returns the axis label suffix for a unit, e.g. "Distance (cm)".
func Label(unit string) string {
	if !IsValid(unit) {
		unit = CM
	}
	return "Distance (" + unit + ")"
}
