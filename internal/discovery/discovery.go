// Package discovery implements Midea's broadcast LAN discovery
// protocol: sending the fixed probe datagram to the two well-known
// discovery ports, classifying responses as V1 (XML), V2 (AES-ECB
// encrypted), or V3 (V2 body wrapped in an 8-byte outer header), and
// decoding each into a DeviceDescriptor.
//
// Grounded on original_source/msmart/discover.py (the broadcast/listen
// loop, V1/V2/V3 classification, and decrypted-body field offsets,
// validated against the captured responses in
// original_source/msmart/tests/test_discover.py), adapted from
// asyncio callbacks into a blocking send-then-read-window loop the
// way _examples/stapelberg-hmgo/internal/uartgw/uartgw.go drives its
// framed serial read loop with explicit deadlines rather than
// callbacks.
package discovery

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sigurn/crc16"

	"github.com/stapelberg/midea-lan/internal/crypto"
	"github.com/stapelberg/midea-lan/internal/frame"
)

// Ports Midea appliances listen for discovery probes on.
const (
	PortLegacy = 6445
	PortAlt    = 20086
)

// DevicePort is the TCP command port V2/V3 devices default to when
// the discovery body does not carry one.
const DevicePort = 6444

var discoveryResponses = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "mideadiscovery",
		Name:      "Responses",
		Help:      "number of discovery responses received",
	},
	[]string{"version"})

func init() {
	prometheus.MustRegister(discoveryResponses)
}

// Msg is the fixed 32-byte discovery probe payload.
var Msg = []byte{
	0x5A, 0x5A, 0x01, 0x11, 0x48, 0x00, 0x92, 0x7E,
	0x00, 0x00, 0x45, 0x53, 0x30, 0x30, 0x30, 0x30,
	0x30, 0x30, 0x30, 0x30, 0x30, 0x30, 0x30, 0x30,
	0x30, 0x30, 0x30, 0x30, 0x30, 0x30, 0x30, 0x00,
}

// dedupTable fingerprints already-seen discovery responses within one
// Discover call; sigurn/crc16 provides the table-driven checksum the
// teacher uses for frame integrity, repurposed here to cheaply key a
// seen-set by payload content rather than allocating a string copy
// per packet.
var dedupTable = crc16.MakeTable(crc16.Params{
	Poly:   0x1021,
	Init:   0xFFFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x0000,
	Name:   "discovery-dedup",
})

// DeviceDescriptor is the immutable-after-discovery identity of a
// Midea appliance found on the LAN. Token/Key may be filled in later
// by cloud authentication for V3 devices.
type DeviceDescriptor struct {
	IP              net.IP
	Port            int
	DeviceID        uint64
	DeviceType      frame.DeviceType
	Name            string
	Serial          string
	ProtocolVersion int
	Token           []byte
	Key             []byte
}

// Options configures a Discover call.
type Options struct {
	Target    string        // defaults to 255.255.255.255
	Attempts  int           // defaults to 3
	Timeout   time.Duration // defaults to 5s
	Interface string        // outbound interface name, optional
}

func (o Options) withDefaults() Options {
	if o.Target == "" {
		o.Target = "255.255.255.255"
	}
	if o.Attempts == 0 {
		o.Attempts = 3
	}
	if o.Timeout == 0 {
		o.Timeout = 5 * time.Second
	}
	return o
}

// Discover broadcasts the discovery probe and collects responses for
// the configured timeout window, deduping by source IP.
func Discover(opts Options) ([]DeviceDescriptor, error) {
	opts = opts.withDefaults()

	conn, err := listen(opts)
	if err != nil {
		return nil, fmt.Errorf("discovery: listening: %w", err)
	}
	defer conn.Close()
	conn.SetReadBuffer(64 * 1024)

	targets := []*net.UDPAddr{
		{IP: net.ParseIP(opts.Target), Port: PortLegacy},
		{IP: net.ParseIP(opts.Target), Port: PortAlt},
	}

	for i := 0; i < opts.Attempts; i++ {
		for _, t := range targets {
			if _, err := conn.WriteToUDP(Msg, t); err != nil {
				log.Printf("discovery: send to %s: %v", t, err)
			}
		}
	}

	seenIPs := make(map[string]bool)
	seenFingerprints := make(map[uint16]bool)
	var results []DeviceDescriptor

	deadline := time.Now().Add(opts.Timeout)
	buf := make([]byte, 4096)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		conn.SetReadDeadline(time.Now().Add(remaining))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			break // deadline exceeded or socket closed
		}

		ipKey := addr.IP.String()
		if seenIPs[ipKey] {
			continue
		}
		fp := crc16.Checksum(buf[:n], dedupTable)
		if seenFingerprints[fp] {
			continue
		}

		desc, err := Classify(buf[:n], addr.IP)
		if err != nil {
			log.Printf("discovery: unrecognized response from %s: %v", addr.IP, err)
			continue
		}
		discoveryResponses.With(prometheus.Labels{"version": fmt.Sprintf("%d", desc.ProtocolVersion)}).Inc()

		seenIPs[ipKey] = true
		seenFingerprints[fp] = true
		results = append(results, desc)
	}

	return results, nil
}

// DiscoverSingle probes one host directly and returns the first
// descriptor, or nil if the host did not answer.
func DiscoverSingle(host string, opts Options) (*DeviceDescriptor, error) {
	opts.Target = host
	descs, err := Discover(opts)
	if err != nil {
		return nil, err
	}
	if len(descs) == 0 {
		return nil, nil
	}
	return &descs[0], nil
}

// Classify parses one discovery response datagram from sourceIP into
// a descriptor.
func Classify(payload []byte, sourceIP net.IP) (DeviceDescriptor, error) {
	if looksLikeXML(payload) {
		return parseV1(payload, sourceIP)
	}
	if len(payload) >= 2 && payload[0] == 0x5A && payload[1] == 0x5A {
		return parseV2(payload, sourceIP)
	}
	if len(payload) >= 2 && payload[0] == 0x83 && payload[1] == 0x70 {
		return parseV3(payload, sourceIP)
	}
	return DeviceDescriptor{}, fmt.Errorf("unrecognized discovery payload header % X", payload[:minInt(4, len(payload))])
}

func looksLikeXML(payload []byte) bool {
	trimmed := bytes.TrimSpace(payload)
	return bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.HasPrefix(trimmed, []byte("<"))
}

type v1Root struct {
	XMLName xml.Name `xml:"root"`
	Device  v1Device `xml:"body>device"`
}

type v1Device struct {
	Name string `xml:"name,attr"`
	Port int    `xml:"port,attr"`
}

func parseV1(payload []byte, sourceIP net.IP) (DeviceDescriptor, error) {
	var root v1Root
	if err := xml.Unmarshal(payload, &root); err != nil {
		// Some V1 firmware answers with the <device> element alone.
		var dev v1Device
		if err2 := xml.Unmarshal(payload, &dev); err2 != nil {
			return DeviceDescriptor{}, fmt.Errorf("parsing V1 XML: %w", err)
		}
		root.Device = dev
	}
	return DeviceDescriptor{
		IP:              sourceIP,
		Port:            root.Device.Port,
		Name:            root.Device.Name,
		ProtocolVersion: 1,
	}, nil
}

// QueryV1Info connects to a V1 device's advertised TCP port and reads
// the follow-up XML metadata document. V1 devices carry no usable
// identity in the discovery datagram itself.
func QueryV1Info(desc DeviceDescriptor, timeout time.Duration) ([]byte, error) {
	if timeout == 0 {
		timeout = 8 * time.Second
	}
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", desc.IP, desc.Port), timeout)
	if err != nil {
		return nil, fmt.Errorf("discovery: V1 info connect: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(Msg); err != nil {
		return nil, fmt.Errorf("discovery: V1 info request: %w", err)
	}

	buf := make([]byte, 8192)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("discovery: V1 info read: %w", err)
	}
	return buf[:n], nil
}

func parseV2(payload []byte, sourceIP net.IP) (DeviceDescriptor, error) {
	if len(payload) < 56+16 {
		return DeviceDescriptor{}, fmt.Errorf("V2 payload too short: %d bytes", len(payload))
	}

	var idBytes [8]byte
	copy(idBytes[:6], payload[20:26])
	deviceID := binary.LittleEndian.Uint64(idBytes[:])

	body, err := crypto.DecryptDiscovery(payload[40 : len(payload)-16])
	if err != nil {
		return DeviceDescriptor{}, fmt.Errorf("decrypting V2 body: %w", err)
	}

	desc := DeviceDescriptor{
		IP:              sourceIP,
		Port:            DevicePort,
		DeviceID:        deviceID,
		ProtocolVersion: 2,
	}
	if err := fillFromDecryptedBody(&desc, body, sourceIP); err != nil {
		return DeviceDescriptor{}, err
	}
	return desc, nil
}

func parseV3(payload []byte, sourceIP net.IP) (DeviceDescriptor, error) {
	if len(payload) < 8+16 {
		return DeviceDescriptor{}, fmt.Errorf("V3 payload too short: %d bytes", len(payload))
	}
	// Strip the 8-byte outer header and the trailing 16-byte hash;
	// the remainder has the same field layout as a V2 response.
	inner := payload[8 : len(payload)-16]
	desc, err := parseV2(inner, sourceIP)
	if err != nil {
		return DeviceDescriptor{}, fmt.Errorf("decoding V3 inner body: %w", err)
	}
	desc.ProtocolVersion = 3
	return desc, nil
}

// fillFromDecryptedBody extracts the fields of the AES-ECB-decrypted
// discovery body: reported IP (reversed byte order) and port, the
// 32-byte serial, and the length-prefixed name whose second
// underscore-separated component is the device type in hex.
func fillFromDecryptedBody(desc *DeviceDescriptor, body []byte, sourceIP net.IP) error {
	if len(body) < 41 {
		return fmt.Errorf("decrypted body too short: %d bytes", len(body))
	}

	reportedIP := net.IPv4(body[3], body[2], body[1], body[0])
	if !reportedIP.Equal(sourceIP) {
		log.Printf("WARN: reported device IP %s does not match received IP %s; using received IP", reportedIP, sourceIP)
	}

	if port := int(binary.LittleEndian.Uint16(body[4:6])); port != 0 {
		desc.Port = port
	}

	desc.Serial = strings.TrimRight(string(body[8:40]), "\x00")

	nameLen := int(body[40])
	nameEnd := 41 + nameLen
	if nameEnd > len(body) {
		nameEnd = len(body)
	}
	desc.Name = string(body[41:nameEnd])
	desc.DeviceType = deviceTypeFromName(desc.Name)
	return nil
}

// deviceTypeFromName parses the hex device type out of an SSID-style
// name such as "net_ac_63BA".
func deviceTypeFromName(name string) frame.DeviceType {
	parts := strings.Split(name, "_")
	if len(parts) < 2 {
		return frame.AirConditioner
	}
	var t uint64
	if _, err := fmt.Sscanf(strings.ToLower(parts[1]), "%x", &t); err != nil || t == 0 || t > 0xFF {
		return frame.AirConditioner
	}
	return frame.DeviceType(t)
}

func listen(opts Options) (*net.UDPConn, error) {
	// The outbound interface is selected by binding the local
	// address to one of the interface's addresses.
	laddr := &net.UDPAddr{}
	if opts.Interface != "" {
		iface, err := net.InterfaceByName(opts.Interface)
		if err != nil {
			return nil, err
		}
		addrs, err := iface.Addrs()
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				laddr.IP = ipnet.IP
				break
			}
		}
	}
	return net.ListenUDP("udp4", laddr)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
