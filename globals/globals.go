package globals

const VERSION = "v0.1.0"

var LOG, DEBUG bool

// Profile is a travel profile understood by the routing service.
type Profile string

const (
	FootHiking      Profile = "foot-hiking"
	FootWalking     Profile = "foot-walking"
	CyclingMountain Profile = "cycling-mountain"
)

var PROFILES = []Profile{FootHiking, FootWalking, CyclingMountain}

func (p Profile) Valid() bool {
	for _, v := range PROFILES {
		if v == p {
			return true
		}
	}
	return false
}

// Speed is the walking pace in km/h used when no routing service supplies a duration.
func (p Profile) Speed() float64 {
	switch p {
	case CyclingMountain:
		return 12
	case FootWalking:
		return 5
	default:
		return 4
	}
}
