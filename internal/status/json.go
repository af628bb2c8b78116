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
	Device         string       `json:"device"`
	State          string       `json:"state"`
	Target         string       `json:"target"`
	Pending        string       `json:"pending,omitempty"`
	Ready          bool         `json:"ready"`
	Sensors        SensorsJSON  `json:"sensors"`
	LastTransition string       `json:"last_transition,omitempty"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	StartTime      string       `json:"start_time"`
	Timestamp      string       `json:"timestamp"`
	MQTT           MQTTStatus   `json:"mqtt"`
	Counts         CountsJSON   `json:"event_counts"`
	Network        *NetworkJSON `json:"network,omitempty"`
	Config         ConfigJSON   `json:"config"`
	Version        string       `json:"version,omitempty"`
}

// SensorsJSON reports the last sensor sample. Sensors that are not fitted
// are omitted.
type SensorsJSON struct {
	Top        *bool `json:"top,omitempty"`
	Bottom     *bool `json:"bottom,omitempty"`
	RelayPower bool  `json:"relay_power"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Opens            int `json:"opens"`
	Closes           int `json:"closes"`
	Stops            int `json:"stops"`
	Faults           int `json:"faults"`
	TimerResolutions int `json:"timer_resolutions"`
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
	PollMs        int64  `json:"poll_ms"`
	IntervalMs    int64  `json:"interval_ms"`
	TimeToOpenMs  int64  `json:"time_to_open_ms"`
	TimeToCloseMs int64  `json:"time_to_close_ms"`
	TopSensor     bool   `json:"top_sensor"`
	BottomSensor  bool   `json:"bottom_sensor"`
	Diagnostics   bool   `json:"diagnostics"`
	Broker        string `json:"broker"`
	HTTPAddr      string `json:"http_addr"`
}

// FormatJSON returns the JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	d := snap.Door
	inner := StatusInner{
		Device:        snap.Config.DeviceName,
		State:         string(d.State),
		Target:        string(d.Target),
		Pending:       string(d.Pending),
		Ready:         snap.Ready,
		Sensors:       SensorsJSON{RelayPower: d.Sensors.RelayPower},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Opens:            d.Counts.Opens,
			Closes:           d.Counts.Closes,
			Stops:            d.Counts.Stops,
			Faults:           d.Counts.Faults,
			TimerResolutions: d.Counts.TimerResolutions,
		},
		Config: ConfigJSON{
			PollMs:        snap.Config.PollMs,
			IntervalMs:    snap.Config.IntervalMs,
			TimeToOpenMs:  snap.Config.TimeToOpenMs,
			TimeToCloseMs: snap.Config.TimeToCloseMs,
			TopSensor:     snap.Config.TopSensor,
			BottomSensor:  snap.Config.BottomSensor,
			Diagnostics:   snap.Config.Diagnostics,
			Broker:        snap.Config.Broker,
			HTTPAddr:      snap.Config.HTTPAddr,
		},
		Version: snap.Config.Version,
	}
	if inner.State == "" {
		inner.State = "Unknown"
	}
	if snap.Config.TopSensor {
		top := d.Sensors.Top
		inner.Sensors.Top = &top
	}
	if snap.Config.BottomSensor {
		bottom := d.Sensors.Bottom
		inner.Sensors.Bottom = &bottom
	}
	if !d.LastTransitionAt.IsZero() {
		inner.LastTransition = d.LastTransitionAt.UTC().Format(time.RFC3339)
	}
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

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}
