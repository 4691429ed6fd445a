package device

// Strings holds the user-visible texts.
type Strings struct {
	Standby              string
	Connecting           string
	Listening            string
	Speaking             string
	LoadingProtocol      string
	ConnectionSuccessful string
	Error                string
	RecordingTooShort    string
	RTCModeOn            string
	RTCModeOff           string
}

// DefaultStrings returns the English texts.
func DefaultStrings() Strings {
	return Strings{
		Standby:              "Standby",
		Connecting:           "Connecting...",
		Listening:            "Listening...",
		Speaking:             "Speaking...",
		LoadingProtocol:      "Loading protocol...",
		ConnectionSuccessful: "Connection successful",
		Error:                "Error",
		RecordingTooShort:    "Recording too short",
		RTCModeOn:            "Realtime chat mode on",
		RTCModeOff:           "Realtime chat mode off",
	}
}
