// midea-lanctl is a thin command line driver for the midea-lan
// library: discover appliances, query and set their state, dump
// capabilities, or keep polling them while serving a status page and
// prometheus metrics.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	midea "github.com/stapelberg/midea-lan"
	"github.com/stapelberg/midea-lan/internal/ac"
	"github.com/stapelberg/midea-lan/internal/cloud"
	"github.com/stapelberg/midea-lan/internal/discovery"
)

// flags
var (
	target = flag.String("target",
		"255.255.255.255",
		"discovery target (broadcast address or a single host)")

	timeout = flag.Duration("timeout",
		5*time.Second,
		"discovery wait")

	listenAddress = flag.String("listen",
		":8014",
		"host:port for the status page and /metrics (serve subcommand)")

	region = flag.String("region",
		cloud.DefaultCloudRegion,
		"cloud region for token retrieval")

	host = flag.String("host",
		"",
		"device IP for query/set/get-capabilities")

	tokenHex = flag.String("token",
		"",
		"hex token for a V3 device (skips cloud authentication)")

	keyHex = flag.String("key",
		"",
		"hex key for a V3 device (skips cloud authentication)")

	power = flag.String("power",
		"",
		"set subcommand: on or off")

	targetTemp = flag.Float64("temperature",
		0,
		"set subcommand: target temperature in degC")

	mode = flag.String("mode",
		"",
		"set subcommand: operational mode (AUTO, COOL, DRY, HEAT, FAN_ONLY, SMART_DRY)")

	fan = flag.String("fan",
		"",
		"set subcommand: fan speed (SILENT, LOW, MEDIUM, HIGH, MAX, AUTO, or 1-100)")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] {discover|query|set|get-capabilities|serve}\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
	}

	var err error
	switch flag.Arg(0) {
	case "discover":
		err = runDiscover()
	case "query":
		err = runQuery()
	case "set":
		err = runSet()
	case "get-capabilities":
		err = runGetCapabilities()
	case "serve":
		err = runServe()
	default:
		usage()
	}
	if err != nil {
		log.Fatal(err)
	}
}

// cloudClient builds a NetHome+ client from the environment
// (MIDEA_ACCOUNT / MIDEA_PASSWORD), falling back to the region
// defaults when neither is set.
func cloudClient() (midea.CloudClient, error) {
	account := os.Getenv("MIDEA_ACCOUNT")
	password := os.Getenv("MIDEA_PASSWORD")
	cl, err := cloud.NewNetHomePlusCloud(*region, account, password)
	if err != nil {
		return nil, err
	}
	if err := cl.Login(); err != nil {
		return nil, err
	}
	return cl, nil
}

func runDiscover() error {
	descs, err := midea.Discover(discovery.Options{Target: *target, Timeout: *timeout})
	if err != nil {
		return err
	}
	for _, d := range descs {
		fmt.Printf("%s\t%s:%d\tid=%d\tv%d\t%s\tsn=%s\n",
			d.DeviceType, d.IP, d.Port, d.DeviceID, d.ProtocolVersion, d.Name, d.Serial)
	}
	return nil
}

// resolveDevice discovers -host, authenticates if needed, and builds
// the typed device.
func resolveDevice() (midea.Device, *midea.DeviceDescriptor, error) {
	if *host == "" {
		return nil, nil, fmt.Errorf("-host is required")
	}
	desc, err := midea.DiscoverSingle(*host, discovery.Options{Timeout: *timeout})
	if err != nil {
		return nil, nil, err
	}
	if desc == nil {
		return nil, nil, fmt.Errorf("no discovery response from %s", *host)
	}

	if desc.ProtocolVersion == 3 {
		if *tokenHex != "" && *keyHex != "" {
			if desc.Token, err = hexDecode(*tokenHex); err != nil {
				return nil, nil, err
			}
			if desc.Key, err = hexDecode(*keyHex); err != nil {
				return nil, nil, err
			}
		} else {
			cl, err := cloudClient()
			if err != nil {
				return nil, nil, err
			}
			if err := midea.Authenticate(desc, cl); err != nil {
				return nil, nil, err
			}
			log.Printf("authenticated; persist token=%x key=%x to skip the cloud next time", desc.Token, desc.Key)
		}
	}

	dev, err := midea.FromDescriptor(*desc)
	if err != nil {
		return nil, nil, err
	}
	return dev, desc, nil
}

func runQuery() error {
	dev, _, err := resolveDevice()
	if err != nil {
		return err
	}
	if err := dev.Refresh(); err != nil {
		return err
	}
	if !dev.Online() {
		return fmt.Errorf("device %s did not respond", dev.Name())
	}

	switch d := dev.(type) {
	case *midea.AC:
		fmt.Printf("%+v\n", d.State())
	case *midea.CC:
		fmt.Printf("%+v\n", d.State())
	case *midea.HeatPump:
		fmt.Printf("%+v\n", d.State())
	}
	return nil
}

func runSet() error {
	dev, _, err := resolveDevice()
	if err != nil {
		return err
	}
	acdev, ok := dev.(*midea.AC)
	if !ok {
		return fmt.Errorf("set is implemented for air conditioners; %s is a %T", dev.Name(), dev)
	}

	// Read the current snapshot first: every set-state is a full
	// snapshot and must not clear unrelated settings.
	if err := acdev.Refresh(); err != nil {
		return err
	}
	if !acdev.Online() {
		return fmt.Errorf("device %s did not respond", dev.Name())
	}
	if _, err := acdev.GetCapabilities(); err != nil {
		return err
	}

	acdev.Update(func(s *ac.State) {
		if *power != "" {
			s.Power = *power == "on"
		}
		if *targetTemp != 0 {
			s.TargetTemperature = *targetTemp
		}
		if *mode != "" {
			s.Mode = ac.ModeFromName(*mode)
		}
		if *fan != "" {
			if n, err := strconv.Atoi(*fan); err == nil {
				s.Fan = ac.FanSpeedFromValue(n)
			} else {
				s.Fan = ac.FanSpeedFromName(*fan)
			}
		}
	})

	if err := acdev.Apply(); err != nil {
		return err
	}
	if !acdev.Online() {
		return fmt.Errorf("device %s did not acknowledge", dev.Name())
	}
	fmt.Printf("%+v\n", acdev.State())
	return nil
}

func runGetCapabilities() error {
	dev, _, err := resolveDevice()
	if err != nil {
		return err
	}
	acdev, ok := dev.(*midea.AC)
	if !ok {
		return fmt.Errorf("get-capabilities is implemented for air conditioners; %s is a %T", dev.Name(), dev)
	}
	caps, err := acdev.GetCapabilities()
	if err != nil {
		return err
	}
	fmt.Printf("%+v\n", caps)
	return nil
}

func runServe() error {
	descs, err := midea.Discover(discovery.Options{Target: *target, Timeout: *timeout})
	if err != nil {
		return err
	}

	var cl midea.CloudClient
	devices := make(map[string]midea.Device)
	for i := range descs {
		desc := &descs[i]
		if desc.ProtocolVersion == 3 && len(desc.Token) == 0 {
			if cl == nil {
				if cl, err = cloudClient(); err != nil {
					return err
				}
			}
			if err := midea.Authenticate(desc, cl); err != nil {
				log.Printf("skipping %s: %v", desc.Name, err)
				continue
			}
		}
		dev, err := midea.FromDescriptor(*desc)
		if err != nil {
			log.Printf("skipping %s: %v", desc.Name, err)
			continue
		}
		devices[desc.Serial] = dev
	}
	log.Printf("driving %d devices", len(devices))

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { handleStatus(w, r, devices) })
	http.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(*listenAddress, nil)

	for {
		for _, dev := range devices {
			if err := dev.Refresh(); err != nil {
				log.Printf("refreshing %s: %v", dev.Name(), err)
			}
		}
		time.Sleep(30 * time.Second)
	}
}

func hexDecode(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bad hex value %q: %w", s, err)
	}
	return b, nil
}
