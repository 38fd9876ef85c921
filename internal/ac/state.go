package ac

// State is the full observable record for a residential air
// conditioner.
type State struct {
	Power bool
	// TargetTemperature is in 0.5C steps, clamped to [17, 30].
	TargetTemperature float64
	Mode              OperationalMode
	Fan               FanSpeed
	Swing             SwingMode
	SwingAngleH       SwingAngle
	SwingAngleV       SwingAngle

	Eco              bool
	Turbo            bool
	Sleep            bool
	FreezeProtection bool
	FollowMe         bool
	Purifier         bool
	SelfClean        bool
	DisplayOn        bool
	BeepOn           bool

	TargetHumidity int // percent, 0 = not set

	IndoorTemperature  float64 // tenth-degree resolution where reported
	OutdoorTemperature float64
	IndoorHumidity     int // percent
	HasIndoorHumidity  bool

	EnergyTotalKWh   float64
	EnergyCurrentKWh float64
	PowerRealtimeW   float64
	HasEnergy        bool

	BreezeAway bool
	BreezeMild bool
	Breezeless bool

	RateSelect RateSelect

	FilterAlert bool
	ErrorCode   byte
	AuxMode     bool
}

// Canonicalize clamps the target temperature to the device's valid
// range and quantizes it to the nearest 0.5C step.
func (s State) Canonicalize() State {
	t := s.TargetTemperature
	if t < 17 {
		t = 17
	}
	if t > 30 {
		t = 30
	}
	t = float64(int(t*2+0.5)) / 2
	s.TargetTemperature = t
	return s
}

// SetBreeze sets at most one of BreezeAway/BreezeMild/Breezeless and
// clears the other two. Setting any breeze mode clears the others; the
// device rejects combined breeze modes.
func (s *State) SetBreeze(away, mild, breezeless bool) {
	s.BreezeAway = false
	s.BreezeMild = false
	s.Breezeless = false
	switch {
	case away:
		s.BreezeAway = true
	case mild:
		s.BreezeMild = true
	case breezeless:
		s.Breezeless = true
	}
}

// breezeControlValue maps the breeze flags onto the combined
// BREEZE_CONTROL property value.
func (s *State) breezeControlValue() byte {
	switch {
	case s.BreezeAway:
		return breezeControlAway
	case s.BreezeMild:
		return breezeControlMild
	case s.Breezeless:
		return breezeControlBreezeless
	default:
		return breezeControlOff
	}
}
