package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/solar-hot-water/internal/status"
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
	"stateClass": func(s string) string {
		switch s {
		case "ON":
			return "on"
		case "OFF", "STANDING_BY":
			return "off"
		default:
			return "unknown"
		}
	},
	"yesno": func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Solar Hot Water</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Solar Hot Water<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Control</h2>
<table>
<tr><th>Heater</th><td id="state" class="{{stateClass .State}}">{{.State}}</td></tr>
<tr><th>Status</th><td id="message">{{.Message}}</td></tr>
<tr><th>SOC permit</th><td id="soc-permit">{{yesno .SocPermit}}</td></tr>
<tr><th>Output</th><td id="output">{{.Output}}</td></tr>
{{if .LastError}}<tr><th>Last error</th><td class="disconnected">{{.LastError}}</td></tr>{{end}}
</table>

<h2>Inputs</h2>
<table>
<tr><th>Enabled</th><td id="enabled">{{yesno .Enabled}}</td></tr>
<tr><th>Battery SOC</th><td id="soc">{{printf "%.1f" .BatterySoc}}%</td></tr>
<tr><th>Power</th><td id="power">{{printf "%.0f" .Power}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Counts</h2>
<table>
<tr><th>Evaluations</th><td id="evaluations">{{.Counts.Evaluations}}</td></tr>
<tr><th>Heater ON</th><td>{{.Counts.HeaterOn}}</td></tr>
<tr><th>Heater OFF</th><td>{{.Counts.HeaterOff}}</td></tr>
<tr><th>Rejected samples</th><td>{{.Counts.Rejected}}</td></tr>
<tr><th>Write errors</th><td>{{.Counts.WriteErrors}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>SOC start / stop</th><td>{{.Config.SocStart}}% / {{.Config.SocStop}}%</td></tr>
<tr><th>Power threshold</th><td>{{.Config.PowerThreshold}}</td></tr>
<tr><th>Enable path</th><td>{{.Config.EnablePath}}</td></tr>
<tr><th>SOC path</th><td>{{.Config.BatterySocPath}}</td></tr>
<tr><th>Power path</th><td>{{.Config.PowerPath}}</td></tr>
<tr><th>Output path</th><td>{{.Config.OutputPath}}</td></tr>
<tr><th>Relay pin</th><td>{{if lt .Config.RelayPin 0}}none{{else}}{{.Config.RelayPin}}{{end}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function set(id, text) { document.getElementById(id).textContent = text; }
  function setDot(cls, title) { dot.className = "live-dot " + cls; dot.title = title; }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() { setDot("err", "offline"); setTimeout(connect, 5000); };
    ws.onmessage = function(ev) {
      try {
        var s = JSON.parse(ev.data).status;
        var el = document.getElementById("state");
        el.textContent = s.state;
        el.className = s.state === "ON" ? "on" : (s.state === "OFF" || s.state === "STANDING_BY") ? "off" : "unknown";
        set("message", s.message || "");
        set("soc-permit", s.soc_permit ? "yes" : "no");
        set("output", s.output);
        set("enabled", s.inputs.enabled ? "yes" : "no");
        set("soc", s.inputs.battery_soc.toFixed(1) + "%");
        set("power", s.inputs.power.toFixed(0));
        set("evaluations", s.counts.evaluations);
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() and State() methods but the template reads fields.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		State  string
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		State:    snap.State(),
	}
	return indexTmpl.Execute(w, data)
}
