package sonar

// Confidence colours used by every renderer, keyed by sensor count.
const (
	ColorNoSensors    = "red"
	ColorOneSensor    = "yellow"
	ColorTwoSensors   = "orange"
	ColorThreeSensors = "green"
)

// ConfidenceColor maps a sensor count to the colour used to draw the current
// position. Counts outside 0..3 are drawn as having no sensors.
func ConfidenceColor(sensorCount int) string {
	switch sensorCount {
	case 1:
		return ColorOneSensor
	case 2:
		return ColorTwoSensors
	case 3:
		return ColorThreeSensors
	default:
		return ColorNoSensors
	}
}
