package device

// State is the device state.
type State int32

const (
	StateUnknown State = iota
	StateStarting
	StateWifiConfiguring
	StateIdle
	StateConnecting
	StateListening
	StateSpeaking
	StateUpgrading
	StateActivating
	StateAudioTesting
	StateFatalError
)

var stateNames = [...]string{
	StateUnknown:         "unknown",
	StateStarting:        "starting",
	StateWifiConfiguring: "configuring",
	StateIdle:            "idle",
	StateConnecting:      "connecting",
	StateListening:       "listening",
	StateSpeaking:        "speaking",
	StateUpgrading:       "upgrading",
	StateActivating:      "activating",
	StateAudioTesting:    "audio_testing",
	StateFatalError:      "fatal_error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "invalid_state"
	}
	return stateNames[s]
}

// ParseState returns the State named s.
func ParseState(s string) (State, bool) {
	for i, name := range stateNames {
		if name == s {
			return State(i), true
		}
	}
	return StateUnknown, false
}

// AECMode selects where acoustic echo cancellation runs.
type AECMode int

const (
	AECOff AECMode = iota
	AECOnDevice
	AECOnServer
)

func (m AECMode) String() string {
	switch m {
	case AECOff:
		return "off"
	case AECOnDevice:
		return "device"
	case AECOnServer:
		return "server"
	default:
		return "unknown"
	}
}

// ParseAECMode returns the mode named s ("off", "device" or "server").
func ParseAECMode(s string) (AECMode, bool) {
	for _, m := range []AECMode{AECOff, AECOnDevice, AECOnServer} {
		if m.String() == s {
			return m, true
		}
	}
	return AECOff, false
}
