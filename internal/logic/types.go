// Package logic contains the pure decision logic for the solar hot water controller.
// This package has NO external dependencies (no MQTT, GPIO, OS, or clocks).
// Everything it needs is passed in and everything it decides is returned.
package logic

// Config holds the thresholds the controller decides against.
type Config struct {
	// SocStart is the battery SOC (percent) that must be reached before heating is permitted.
	SocStart float64
	// SocStop is the battery SOC (percent) at or below which the permit is revoked.
	// Must not exceed SocStart.
	SocStop float64
	// PowerThreshold is the power source output that must be exceeded for the heater to run.
	PowerThreshold float64
}

// Sample is one synchronized reading of the three controller inputs.
type Sample struct {
	Enabled       bool
	StateOfCharge float64 // 0-100, already scaled from a 0-1 fraction
	Power         float64 // same unit as Config.PowerThreshold
}

// Triple is the observable part of the controller state used for change detection.
type Triple struct {
	Enabled   bool
	SocPermit bool
	HeaterOn  bool
}

// State is the mutable controller state. It is owned by exactly one session
// and passed by value into and out of Evaluate.
type State struct {
	SocPermit bool
	HeaterOn  bool

	// Last is the triple observed by the previous evaluation.
	// It is meaningless until Observed is true.
	Last     Triple
	Observed bool
}

// NotificationKind classifies a status notification.
type NotificationKind string

const (
	NotifyStandingBy NotificationKind = "STANDING_BY"
	NotifyOn         NotificationKind = "ON"
	NotifyOff        NotificationKind = "OFF"
)

// Reasons carried by an OFF notification.
const (
	ReasonSocTooLow   = "battery SOC too low"
	ReasonPowerTooLow = "power level too low"
)

// Notification is an advisory status message produced on an observable state change.
// It must never be used as input to further control decisions.
type Notification struct {
	Kind   NotificationKind
	Reason string // set for NotifyOff only
}

// String returns the operator-facing status text.
func (n Notification) String() string {
	switch n.Kind {
	case NotifyStandingBy:
		return "control output is standing by"
	case NotifyOn:
		return "control output is enabled and ON"
	case NotifyOff:
		return "control output is enabled and OFF (" + n.Reason + ")"
	}
	return "control output is in an unknown state"
}

// Decision is the result of one evaluation.
type Decision struct {
	// Output is the actuation value for the sink: always 0 or 1.
	Output int
	// Notification is non-nil only when the observable state changed.
	Notification *Notification
}

// Output values.
const (
	OutputOff = 0
	OutputOn  = 1
)
