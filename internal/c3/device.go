package c3

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stapelberg/midea-lan/internal/frame"
)

const prometheusNamespace = "mideahp"

var (
	tankTemperature = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      "TankTemperature",
			Help:      "DHW tank temperature in degC",
		},
		[]string{"id", "name"})

	outdoorTemperature = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      "OutdoorTemperature",
			Help:      "outdoor air temperature in degC",
		},
		[]string{"id", "name"})

	electricPower = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      "ElectricPowerTotal",
			Help:      "cumulative electric energy counter",
		},
		[]string{"id", "name"})

	thermalPower = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      "ThermalPowerTotal",
			Help:      "cumulative thermal energy counter",
		},
		[]string{"id", "name"})

	mainsVoltage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      "MainsVoltage",
			Help:      "supply voltage in V",
		},
		[]string{"id", "name"})

	hpOnline = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      "Online",
			Help:      "device responded to the most recent request",
		},
		[]string{"id", "name"})
)

func init() {
	prometheus.MustRegister(tankTemperature)
	prometheus.MustRegister(outdoorTemperature)
	prometheus.MustRegister(electricPower)
	prometheus.MustRegister(thermalPower)
	prometheus.MustRegister(mainsVoltage)
	prometheus.MustRegister(hpOnline)
}

// Sender is the transport surface the device drives; implemented by
// internal/transport.
type Sender interface {
	SendRequest(wire []byte, responseWindow time.Duration) ([]frame.Frame, error)
}

// Zone is the local state of one heat-pump climate zone. Zone 2 is
// created lazily when a basic response flags double-zone support.
type Zone struct {
	Power           bool
	Curve           bool
	TemperatureType TemperatureType
	TerminalType    TerminalType

	TargetTemperature float64

	MinHeatTemperature float64
	MaxHeatTemperature float64
	MinCoolTemperature float64
	MaxCoolTemperature float64
}

// State is the heat pump's observable state record.
type State struct {
	RunMode     RunMode
	HeatEnabled bool
	CoolEnabled bool

	Zone1 Zone
	Zone2 *Zone

	DHWEnabled           bool
	DHWPower             bool
	DHWTargetTemperature float64
	DHWMinTemperature    float64
	DHWMaxTemperature    float64

	RoomThermostatEnable  bool
	RoomThermostatPower   bool
	RoomTargetTemperature float64
	RoomMinTemperature    float64
	RoomMaxTemperature    float64

	TBH     bool
	FastDHW bool

	TankTemperature    float64
	HasTankTemperature bool

	OutdoorTemperature int8
	ElectricPower      uint32
	ThermalPower       uint32
	Voltage            byte

	ErrorCode byte
}

// HeatPump is the device state machine for a 0xC3 heat pump.
type HeatPump struct {
	sender Sender
	id     uint64
	name   string

	mu        sync.RWMutex
	state     State
	control   BasicControl
	dirty     bool
	online    bool
	supported bool
}

// New constructs a HeatPump driving the given sender.
func New(sender Sender, id uint64, name string) *HeatPump {
	return &HeatPump{sender: sender, id: id, name: name}
}

func (h *HeatPump) Name() string { return h.name }
func (h *HeatPump) ID() uint64   { return h.id }

func (h *HeatPump) labels() prometheus.Labels {
	return prometheus.Labels{"id": fmt.Sprintf("%d", h.id), "name": h.name}
}

// Online reports whether the most recent request got any response.
func (h *HeatPump) Online() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.online
}

// Supported reports whether a response has ever decoded cleanly.
func (h *HeatPump) Supported() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.supported
}

// State returns a copy of the current state record. The Zone2 pointer
// is deep-copied.
func (h *HeatPump) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.state
	if h.state.Zone2 != nil {
		z := *h.state.Zone2
		s.Zone2 = &z
	}
	return s
}

// Update applies fn to the pending control snapshot and marks it
// dirty; the next Apply sends the full CONTROL_BASIC command.
func (h *HeatPump) Update(fn func(*BasicControl)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.control)
	h.dirty = true
}

// Refresh queries the basic state and the unit parameters, folding
// every response into the state record.
func (h *HeatPump) Refresh() error {
	anyResponse := false

	n, err := h.send(frame.FrameTypeQuery, EncodeQuery(QueryBasic))
	if err != nil {
		return err
	}
	anyResponse = anyResponse || n > 0

	if n, err := h.send(frame.FrameTypeQuery, EncodeQuery(QueryUnitParameters)); err == nil {
		anyResponse = anyResponse || n > 0
	}

	h.setOnline(anyResponse)
	return nil
}

// Apply sends the pending CONTROL_BASIC snapshot, if dirty. The
// control snapshot is seeded from the most recent basic response so a
// single-field change does not clear unrelated settings.
func (h *HeatPump) Apply() error {
	h.mu.Lock()
	if !h.dirty {
		h.mu.Unlock()
		return nil
	}
	control := h.control
	h.mu.Unlock()

	n, err := h.send(frame.FrameTypeControl, control.Encode())
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.dirty = false
	h.mu.Unlock()
	h.setOnline(n > 0)
	return nil
}

func (h *HeatPump) send(ft frame.FrameType, payload []byte) (int, error) {
	wire := frame.Encode(frame.Frame{
		DeviceType: frame.HeatPump,
		FrameType:  ft,
		Payload:    payload,
	})
	frames, err := h.sender.SendRequest(wire, 0)
	if err != nil {
		h.setOnline(false)
		return 0, err
	}
	for _, f := range frames {
		h.handleFrame(f)
	}
	return len(frames), nil
}

// HandleFrame folds one received frame (solicited or unsolicited
// report) into the state record.
func (h *HeatPump) HandleFrame(f frame.Frame) { h.handleFrame(f) }

func (h *HeatPump) handleFrame(f frame.Frame) {
	if f.DeviceType != frame.HeatPump {
		log.Printf("WARN: dropping frame for device type %s on heat pump channel", f.DeviceType)
		return
	}
	if len(f.Payload) == 0 {
		return
	}

	switch {
	case f.FrameType == frame.FrameTypeQuery && QueryType(f.Payload[0]) == QueryBasic:
		r, err := DecodeBasicResponse(f.Payload)
		if err != nil {
			log.Printf("ERROR: decoding basic response: %v", err)
			return
		}
		h.applyBasicResponse(r)

	case f.FrameType == frame.FrameTypeQuery && QueryType(f.Payload[0]) == QueryUnitParameters:
		r, err := DecodeUnitParameters(f.Payload)
		if err != nil {
			log.Printf("ERROR: decoding unit parameters: %v", err)
			return
		}
		h.applyUnitParameters(r)

	case f.FrameType == frame.FrameTypeReport && ReportType(f.Payload[0]) == ReportPower4:
		r, err := DecodePower4Report(f.Payload)
		if err != nil {
			log.Printf("ERROR: decoding POWER4 report: %v", err)
			return
		}
		h.applyPower4(r)

	default:
		log.Printf("WARN: unknown heat pump response type 0x%02X/0x%02X dropped", byte(f.FrameType), f.Payload[0])
	}
}

func (h *HeatPump) applyBasicResponse(r BasicResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.supported = true

	h.state.RunMode = r.RunMode
	h.state.HeatEnabled = r.HeatEnabled
	h.state.CoolEnabled = r.CoolEnabled

	if r.Zone2Enabled && h.state.Zone2 == nil {
		h.state.Zone2 = &Zone{}
	}

	applyZone(&h.state.Zone1, r.Zone1)
	if h.state.Zone2 != nil {
		applyZone(h.state.Zone2, r.Zone2)
	}

	h.state.DHWEnabled = r.DHWEnabled
	h.state.DHWPower = r.DHWPower
	h.state.DHWTargetTemperature = float64(r.DHWTargetTemperature)
	h.state.DHWMinTemperature = float64(r.DHWMinTemperature)
	h.state.DHWMaxTemperature = float64(r.DHWMaxTemperature)

	h.state.RoomThermostatEnable = r.RoomThermostatEnable
	h.state.RoomThermostatPower = r.RoomThermostatPower
	h.state.RoomTargetTemperature = r.RoomTargetTemperature
	h.state.RoomMinTemperature = r.RoomMinTemperature
	h.state.RoomMaxTemperature = r.RoomMaxTemperature

	h.state.TBH = r.TBH
	h.state.FastDHW = r.FastDHW
	h.state.ErrorCode = r.ErrorCode

	h.state.HasTankTemperature = r.HasTankTemperature
	if r.HasTankTemperature {
		h.state.TankTemperature = float64(r.TankTemperature)
		tankTemperature.With(h.labels()).Set(h.state.TankTemperature)
	}

	// Seed the pending control snapshot from the reported state, so
	// that Apply after a single-field Update keeps the rest intact.
	h.control = BasicControl{
		Zone1Power:             r.Zone1.Power,
		Zone2Power:             r.Zone2.Power,
		DHWPower:               r.DHWPower,
		RunMode:                r.RunMode,
		Zone1TargetTemperature: r.Zone1.TargetTemperature,
		Zone2TargetTemperature: r.Zone2.TargetTemperature,
		DHWTargetTemperature:   r.DHWTargetTemperature,
		RoomTargetTemperature:  r.RoomTargetTemperature,
		Zone1Curve:             r.Zone1.Curve,
		Zone2Curve:             r.Zone2.Curve,
		TBH:                    r.TBH,
		FastDHW:                r.FastDHW,
	}
}

func applyZone(z *Zone, r ZoneState) {
	z.Power = r.Power
	z.Curve = r.Curve
	z.TemperatureType = r.TemperatureType
	z.TerminalType = r.TerminalType
	z.TargetTemperature = float64(r.TargetTemperature)
	z.MinHeatTemperature = float64(r.HeatMinTemperature)
	z.MaxHeatTemperature = float64(r.HeatMaxTemperature)
	z.MinCoolTemperature = float64(r.CoolMinTemperature)
	z.MaxCoolTemperature = float64(r.CoolMaxTemperature)
}

func (h *HeatPump) applyUnitParameters(r UnitParameters) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.supported = true
	h.state.OutdoorTemperature = r.OutdoorTemperature
	outdoorTemperature.With(h.labels()).Set(float64(r.OutdoorTemperature))
}

func (h *HeatPump) applyPower4(r Power4Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.supported = true
	h.state.ElectricPower = r.ElectricPower
	h.state.ThermalPower = r.ThermalPower
	h.state.OutdoorTemperature = r.OutdoorAirTemperature
	h.state.Voltage = r.Voltage
	if r.WaterTankTemperature != 0xFF {
		h.state.TankTemperature = float64(r.WaterTankTemperature)
		h.state.HasTankTemperature = true
		tankTemperature.With(h.labels()).Set(h.state.TankTemperature)
	}

	electricPower.With(h.labels()).Set(float64(r.ElectricPower))
	thermalPower.With(h.labels()).Set(float64(r.ThermalPower))
	outdoorTemperature.With(h.labels()).Set(float64(r.OutdoorAirTemperature))
	mainsVoltage.With(h.labels()).Set(float64(r.Voltage))
}

func (h *HeatPump) setOnline(online bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.online = online
	hpOnline.With(h.labels()).Set(boolToFloat64(online))
}

func boolToFloat64(val bool) float64 {
	var converted float64
	if val {
		converted = 1
	}
	return converted
}
