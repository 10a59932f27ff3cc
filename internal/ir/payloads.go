package ir

// Payloads of the core transmissions the server issues itself.

// LoginPayload announces a new session.
type LoginPayload struct {
	User string `json:"user"`
	Kind string `json:"kind"`
}

// LogoffPayload announces a closed session.
type LogoffPayload struct {
	User   string `json:"user"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// StateSwitchPayload carries the read-only flag in effect from this
// transmission on.
type StateSwitchPayload struct {
	ReadOnly bool `json:"read_only"`
}
