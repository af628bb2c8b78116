package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/garage-door/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stateClass": func(s fmt.Stringer) string {
		switch s.String() {
		case "Opening", "Closing":
			return "moving"
		case "Open":
			return "open"
		case "Closed":
			return "closed"
		case "Stopped":
			return "stopped"
		}
		return "unknown"
	},
	"sensor": func(fitted, asserted bool) string {
		if !fitted {
			return "not fitted"
		}
		if asserted {
			return "asserted"
		}
		return "clear"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>{{.Config.DeviceName}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.closed { color: green; font-weight: bold; }
.moving { color: orange; font-weight: bold; }
.open { color: orange; }
.stopped { color: #888; }
.unknown { color: red; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>{{.Config.DeviceName}}</h1>

<h2>Door</h2>
<table>
<tr><th>State</th><td id="door-state" class="{{stateClass .State}}">{{.State}}</td></tr>
<tr><th>Target</th><td id="door-target">{{.Door.Target}}</td></tr>
{{if .Door.Pending}}<tr><th>Pending</th><td>{{.Door.Pending}}</td></tr>{{end}}
<tr><th>Top sensor</th><td>{{sensor .Config.TopSensor .Door.Sensors.Top}}</td></tr>
<tr><th>Bottom sensor</th><td>{{sensor .Config.BottomSensor .Door.Sensors.Bottom}}</td></tr>
<tr><th>Relay power</th><td>{{if .Door.Sensors.RelayPower}}on{{else}}off{{end}}</td></tr>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Opens</th><td>{{.Door.Counts.Opens}}</td></tr>
<tr><th>Closes</th><td>{{.Door.Counts.Closes}}</td></tr>
<tr><th>Stops</th><td>{{.Door.Counts.Stops}}</td></tr>
<tr><th>Timer resolutions</th><td>{{.Door.Counts.TimerResolutions}}</td></tr>
<tr><th>Sensor faults</th><td>{{.Door.Counts.Faults}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{.Config.IntervalMs}}ms</td></tr>
<tr><th>Travel</th><td>open {{.Config.TimeToOpenMs}}ms, close {{.Config.TimeToCloseMs}}ms</td></tr>
<tr><th>Diagnostics</th><td>{{if .Config.Diagnostics}}enabled{{else}}disabled{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
{{if .Config.Version}}<tr><th>Version</th><td>{{.Config.Version}}</td></tr>{{end}}
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

type stateName string

func (s stateName) String() string {
	if s == "" {
		return "Unknown"
	}
	return string(s)
}

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		State  stateName
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		State:    stateName(snap.Door.State),
	}
	return indexTmpl.Execute(w, data)
}
