package main

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"net/http"

	midea "github.com/stapelberg/midea-lan"
)

const statusTmplContents = `
<!DOCTYPE html>
<title>midea-lanctl</title>
<body>
<h1>Devices</h1>
<table width="100%">
{{ range $serial, $dev := .Devices }}
<tr>
<td>{{ $serial }}</td>
<td>{{ $dev.Name }}</td>
<td>{{ if $dev.Online }}online{{ else }}offline{{ end }}</td>
<td>{{ statusLine $dev }}</td>
</tr>
{{ end }}
</table>
`

var statusTmpl = template.Must(template.New("status").Funcs(template.FuncMap{
	"statusLine": statusLine,
}).Parse(statusTmplContents))

// statusLine renders a one-line state snapshot per device variant.
func statusLine(dev midea.Device) string {
	switch d := dev.(type) {
	case *midea.AC:
		s := d.State()
		return template.HTMLEscapeString(
			formatAC(s.Power, s.Mode.String(), s.TargetTemperature, s.IndoorTemperature, s.OutdoorTemperature))
	case *midea.CC:
		s := d.State()
		return template.HTMLEscapeString(
			formatCC(s.PowerOn, s.TargetTemperature, s.IndoorTemperature))
	case *midea.HeatPump:
		s := d.State()
		return template.HTMLEscapeString(
			formatHP(s.RunMode.String(), s.TankTemperature, s.OutdoorTemperature))
	default:
		return ""
	}
}

func formatAC(power bool, mode string, target, indoor, outdoor float64) string {
	return fmt.Sprintf("power=%v mode=%s target=%.1f℃ indoor=%.1f℃ outdoor=%.1f℃",
		power, mode, target, indoor, outdoor)
}

func formatCC(power bool, target, indoor float64) string {
	return fmt.Sprintf("power=%v target=%.1f℃ indoor=%.1f℃", power, target, indoor)
}

func formatHP(mode string, tank float64, outdoor int8) string {
	return fmt.Sprintf("mode=%s tank=%.0f℃ outdoor=%d℃", mode, tank, outdoor)
}

func handleStatus(w http.ResponseWriter, r *http.Request, devs map[string]midea.Device) {
	var buf bytes.Buffer

	if err := statusTmpl.Execute(&buf, struct {
		Devices map[string]midea.Device
	}{
		Devices: devs,
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	io.Copy(w, &buf)
}
