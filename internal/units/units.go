// Package units holds the speed and energy conversions used across the simulator.
// Internal state is SI (m/s, J); reports and config use km/h and kWh.
package units

// Speed unit names accepted by ConvertSpeed.
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

const (
	kmhPerMPS    = 3.6
	mphPerMPS    = 2.2369362920544
	joulesPerKWh = 3.6e6
)

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// KmhToMPS converts km/h to m/s.
func KmhToMPS(kmh float64) float64 { return kmh / kmhPerMPS }

// MPSToKmh converts m/s to km/h.
func MPSToKmh(mps float64) float64 { return mps * kmhPerMPS }

// JoulesToKWh converts J to kWh.
func JoulesToKWh(j float64) float64 { return j / joulesPerKWh }

// KWhToJoules converts kWh to J.
func KWhToJoules(kwh float64) float64 { return kwh * joulesPerKWh }

// ConvertSpeed converts a speed in m/s to the target units.
// Unknown units leave the value in m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * mphPerMPS
	case KMPH, KPH:
		return MPSToKmh(speedMPS)
	default:
		return speedMPS
	}
}
