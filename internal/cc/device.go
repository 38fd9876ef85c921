package cc

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stapelberg/midea-lan/internal/frame"
)

const prometheusNamespace = "mideacc"

var (
	targetTemperature = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      "TargetTemperature",
			Help:      "target temperature in degC",
		},
		[]string{"id", "name"})

	indoorTemperature = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      "IndoorTemperature",
			Help:      "indoor temperature in degC",
		},
		[]string{"id", "name"})

	powerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      "Power",
			Help:      "power state as bool",
		},
		[]string{"id", "name"})

	ccOnline = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      "Online",
			Help:      "device responded to the most recent request",
		},
		[]string{"id", "name"})
)

func init() {
	prometheus.MustRegister(targetTemperature)
	prometheus.MustRegister(indoorTemperature)
	prometheus.MustRegister(powerState)
	prometheus.MustRegister(ccOnline)
}

// Sender is the transport surface the device drives; implemented by
// internal/transport.
type Sender interface {
	SendRequest(wire []byte, responseWindow time.Duration) ([]frame.Frame, error)
}

// CommercialCooler is the device state machine for a 0xCC commercial
// cooler. Unlike the residential AC, its control channel is TLV-only:
// Apply sends exactly the dirty control IDs.
type CommercialCooler struct {
	sender Sender
	id     uint64
	name   string

	mu        sync.RWMutex
	state     StateResponse
	pending   map[ControlID]any
	online    bool
	supported bool
}

// New constructs a CommercialCooler driving the given sender.
func New(sender Sender, id uint64, name string) *CommercialCooler {
	return &CommercialCooler{
		sender:  sender,
		id:      id,
		name:    name,
		pending: make(map[ControlID]any),
	}
}

func (c *CommercialCooler) Name() string { return c.name }
func (c *CommercialCooler) ID() uint64   { return c.id }

func (c *CommercialCooler) labels() prometheus.Labels {
	return prometheus.Labels{"id": fmt.Sprintf("%d", c.id), "name": c.name}
}

// Online reports whether the most recent request got any response.
func (c *CommercialCooler) Online() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// Supported reports whether a response has ever decoded cleanly.
func (c *CommercialCooler) Supported() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supported
}

// State returns a copy of the most recently decoded state.
func (c *CommercialCooler) State() StateResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.state
	s.SupportedModes = append([]byte{}, c.state.SupportedModes...)
	return s
}

// SetControl queues one control change for the next Apply.
func (c *CommercialCooler) SetControl(id ControlID, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[id] = value
}

// Refresh issues the state query and folds the responses into the
// state record.
func (c *CommercialCooler) Refresh() error {
	n, err := c.send(frame.FrameTypeQuery, EncodeQuery())
	if err != nil {
		return err
	}
	c.setOnline(n > 0)
	return nil
}

// Apply sends the queued control changes as one TLV command.
func (c *CommercialCooler) Apply() error {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return nil
	}
	controls := c.pending
	c.pending = make(map[ControlID]any)
	c.mu.Unlock()

	payload, err := EncodeControl(controls)
	if err != nil {
		return err
	}
	n, err := c.send(frame.FrameTypeControl, payload)
	if err != nil {
		return err
	}
	c.setOnline(n > 0)
	return nil
}

func (c *CommercialCooler) send(ft frame.FrameType, payload []byte) (int, error) {
	wire := frame.Encode(frame.Frame{
		DeviceType: frame.CommercialAC,
		FrameType:  ft,
		Payload:    payload,
	})
	frames, err := c.sender.SendRequest(wire, 0)
	if err != nil {
		c.setOnline(false)
		return 0, err
	}
	for _, f := range frames {
		c.handleFrame(f)
	}
	return len(frames), nil
}

// HandleFrame folds one received frame into the state record.
func (c *CommercialCooler) HandleFrame(f frame.Frame) { c.handleFrame(f) }

func (c *CommercialCooler) handleFrame(f frame.Frame) {
	if f.DeviceType != frame.CommercialAC {
		log.Printf("WARN: dropping frame for device type %s on commercial cooler channel", f.DeviceType)
		return
	}

	decoded, err := DecodeResponse(f)
	if err != nil {
		log.Printf("ERROR: decoding commercial cooler response: %v", err)
		return
	}

	switch r := decoded.(type) {
	case StateResponse:
		c.mu.Lock()
		c.state = r
		c.supported = true
		c.mu.Unlock()
		targetTemperature.With(c.labels()).Set(r.TargetTemperature)
		indoorTemperature.With(c.labels()).Set(r.IndoorTemperature)
		powerState.With(c.labels()).Set(boolToFloat64(r.PowerOn))

	case ControlResponse:
		c.applyControlAck(r)
	}
}

// applyControlAck reconciles the echoed control values into the state
// record.
func (c *CommercialCooler) applyControlAck(r ControlResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supported = true

	if v, ok := r.Get(ControlPower); ok {
		c.state.PowerOn = v.(byte) != 0
	}
	if v, ok := r.Get(ControlTargetTemperature); ok {
		c.state.TargetTemperature = v.(float64)
	}
	if v, ok := r.Get(ControlMode); ok {
		c.state.OperationalMode = v.(byte)
	}
	if v, ok := r.Get(ControlFanSpeed); ok {
		c.state.FanSpeed = v.(byte)
	}
	if v, ok := r.Get(ControlVertSwingAngle); ok {
		c.state.SwingUDAngle = v.(byte)
	}
	if v, ok := r.Get(ControlHorzSwingAngle); ok {
		c.state.SwingLRAngle = v.(byte)
	}
	if v, ok := r.Get(ControlEco); ok {
		c.state.Eco = v.(byte) != 0
	}
	if v, ok := r.Get(ControlSilent); ok {
		c.state.Silent = v.(byte) != 0
	}
	if v, ok := r.Get(ControlSleep); ok {
		c.state.Sleep = v.(byte) != 0
	}
	if v, ok := r.Get(ControlPurifier); ok {
		c.state.Purifier = v.(bool)
	}
	if v, ok := r.Get(ControlAuxMode); ok {
		c.state.AuxMode = v.(byte)
	}
}

func (c *CommercialCooler) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online = online
	ccOnline.With(c.labels()).Set(boolToFloat64(online))
}

func boolToFloat64(val bool) float64 {
	var converted float64
	if val {
		converted = 1
	}
	return converted
}
