package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	State         string       `json:"state"`
	Message       string       `json:"message,omitempty"`
	Ready         bool         `json:"ready"`
	SocPermit     bool         `json:"soc_permit"`
	HeaterOn      bool         `json:"heater_on"`
	Output        int          `json:"output"`
	Inputs        InputsJSON   `json:"inputs"`
	LastError     string       `json:"last_error,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// InputsJSON reports the most recent sample.
type InputsJSON struct {
	Enabled    bool    `json:"enabled"`
	BatterySoc float64 `json:"battery_soc"`
	Power      float64 `json:"power"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of the counters.
type CountsJSON struct {
	Evaluations int `json:"evaluations"`
	HeaterOn    int `json:"heater_on"`
	HeaterOff   int `json:"heater_off"`
	Rejected    int `json:"rejected"`
	WriteErrors int `json:"write_errors"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	EnablePath     string  `json:"enable_path"`
	BatterySocPath string  `json:"battery_soc_path"`
	PowerPath      string  `json:"power_path"`
	OutputPath     string  `json:"output_path"`
	SocStart       float64 `json:"battery_soc_start_threshold"`
	SocStop        float64 `json:"battery_soc_stop_threshold"`
	PowerThreshold float64 `json:"power_threshold"`
	HeartbeatMs    int64   `json:"heartbeat_ms"`
	Broker         string  `json:"broker"`
	HTTPAddr       string  `json:"http_addr"`
	RelayPin       *int    `json:"relay_pin,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		State:     snap.State(),
		Message:   snap.Message,
		Ready:     snap.Ready,
		SocPermit: snap.SocPermit,
		HeaterOn:  snap.HeaterOn,
		Output:    snap.Output,
		Inputs: InputsJSON{
			Enabled:    snap.Enabled,
			BatterySoc: snap.BatterySoc,
			Power:      snap.Power,
		},
		LastError:     snap.LastError,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Evaluations: snap.Counts.Evaluations,
			HeaterOn:    snap.Counts.HeaterOn,
			HeaterOff:   snap.Counts.HeaterOff,
			Rejected:    snap.Counts.Rejected,
			WriteErrors: snap.Counts.WriteErrors,
		},
		Config: ConfigJSON{
			EnablePath:     snap.Config.EnablePath,
			BatterySocPath: snap.Config.BatterySocPath,
			PowerPath:      snap.Config.PowerPath,
			OutputPath:     snap.Config.OutputPath,
			SocStart:       snap.Config.SocStart,
			SocStop:        snap.Config.SocStop,
			PowerThreshold: snap.Config.PowerThreshold,
			HeartbeatMs:    snap.Config.HeartbeatMs,
			Broker:         snap.Config.Broker,
			HTTPAddr:       snap.Config.HTTPAddr,
		},
	}
	if snap.Config.RelayPin >= 0 {
		pin := snap.Config.RelayPin
		inner.Config.RelayPin = &pin
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
