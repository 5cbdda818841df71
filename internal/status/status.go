// Package status provides a thread-safe status tracker for the solar-hot-water daemon.
// It is read by the HTTP handlers and by the heartbeat publisher.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/solar-hot-water/internal/session"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	EnablePath     string
	BatterySocPath string
	PowerPath      string
	OutputPath     string
	SocStart       float64
	SocStop        float64
	PowerThreshold float64
	HeartbeatMs    int64
	Broker         string
	HTTPAddr       string
	RelayPin       int // -1 when no relay is configured
}

// Counts are cumulative counters since the daemon started.
type Counts struct {
	Evaluations int
	HeaterOn    int // off -> on transitions
	HeaterOff   int // on -> off transitions
	Rejected    int
	WriteErrors int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Ready         bool // at least one evaluation has run
	Enabled       bool
	BatterySoc    float64 // percent
	Power         float64
	SocPermit     bool
	HeaterOn      bool
	Output        int
	Message       string // last status notification
	MessageTime   time.Time
	LastError     string
	Counts        Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// State summarises the output for display: UNKNOWN before the first
// evaluation, STANDING_BY while disabled, otherwise ON or OFF.
func (s Snapshot) State() string {
	switch {
	case !s.Ready:
		return "UNKNOWN"
	case !s.Enabled:
		return "STANDING_BY"
	case s.HeaterOn:
		return "ON"
	default:
		return "OFF"
	}
}

// Tracker holds mutable daemon state behind an RWMutex. It observes the
// session and receives its notifications.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

var (
	_ session.Observer = (*Tracker)(nil)
	_ session.Notifier = (*Tracker)(nil)
)

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Evaluated records the inputs, controller state and output of one evaluation.
func (t *Tracker) Evaluated(ev session.Evaluation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snap.Ready && ev.State.HeaterOn != t.snap.HeaterOn {
		if ev.State.HeaterOn {
			t.snap.Counts.HeaterOn++
		} else {
			t.snap.Counts.HeaterOff++
		}
	} else if !t.snap.Ready && ev.State.HeaterOn {
		t.snap.Counts.HeaterOn++
	}

	t.snap.Ready = true
	t.snap.Enabled = ev.Sample.Enabled
	t.snap.BatterySoc = ev.Sample.StateOfCharge
	t.snap.Power = ev.Sample.Power
	t.snap.SocPermit = ev.State.SocPermit
	t.snap.HeaterOn = ev.State.HeaterOn
	t.snap.Output = ev.Decision.Output
	t.snap.Counts.Evaluations++
	if ev.WriteErr != nil {
		t.snap.Counts.WriteErrors++
		t.snap.LastError = ev.WriteErr.Error()
	}
}

// Rejected counts a sample that could not be decoded.
func (t *Tracker) Rejected(_ string, _ error) {
	t.mu.Lock()
	t.snap.Counts.Rejected++
	t.mu.Unlock()
}

// Status records the latest status notification.
func (t *Tracker) Status(msg string) {
	t.mu.Lock()
	t.snap.Message = msg
	t.snap.MessageTime = time.Now()
	t.mu.Unlock()
}

// Error records the latest fatal error.
func (t *Tracker) Error(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	t.snap.LastError = err.Error()
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
