package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/sparse-speed/internal/db"
	"github.com/banshee-data/sparse-speed/internal/sensor"
	"github.com/banshee-data/sparse-speed/internal/version"
)

const (
	sourceUART   = "uart"
	sourceSocket = "socket"
	sourcePcap   = "pcap"
	sourceSim    = "sim"
)

var (
	source     = flag.String("source", sourceUART, "Sensor source: uart, socket, pcap or sim")
	port       = flag.String("port", "", "Serial port for -source uart (empty autodetects)")
	baud       = flag.Int("baud", 0, "Serial baud rate (0 uses 115200)")
	socketAddr = flag.String("socket-addr", "192.168.1.10:6110", "Sensor UDP address for -source socket")
	pcapFile   = flag.String("pcap", "", "Capture file to replay for -source pcap")
	pcapPort   = flag.Int("pcap-port", 0, "Only replay UDP traffic on this port (0 accepts all)")
	realtime   = flag.Bool("realtime", false, "Replay captures at their recorded pace")
	configFile = flag.String("config", "", "Processing config file (.json, .yaml or .yml)")
	dbPath     = flag.String("db", "sparse_speed.db", "SQLite database path (empty disables storage)")
	listen     = flag.String("listen", ":8080", "HTTP listen address (empty disables the server)")
	plotDir    = flag.String("plot-dir", "", "Write speed history and sequence plots here on exit")

	rangeStart = flag.Float64("range-start", 0, "Override the sensor range start, metres")
	rangeEnd   = flag.Float64("range-end", 0, "Override the sensor range end, metres")
	stepSize   = flag.Int("stepsize", 0, "Override the sensor depth step size")
	gain       = flag.Float64("gain", -1, "Override the sensor gain, 0 to 1")
	sweepRate  = flag.Float64("sweep-rate", 0, "Override the sensor sweep rate, Hz")
	simSpeed   = flag.Float64("sim-speed", 0, "Target speed for -source sim, m/s (0 keeps the default)")

	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: sparse-speed [flags]
       sparse-speed [flags] migrate <action>

Flags:
`)
	flag.PrintDefaults()
}

// optionsFromFlags resolves the parsed flags into run options.
func optionsFromFlags() (options, error) {
	o := options{
		Source:     *source,
		Port:       *port,
		Baud:       *baud,
		SocketAddr: *socketAddr,
		PcapFile:   *pcapFile,
		PcapPort:   *pcapPort,
		Realtime:   *realtime,
		ConfigFile: *configFile,
		DBPath:     *dbPath,
		Listen:     *listen,
		PlotDir:    *plotDir,
		Sensor:     sensor.DefaultConfig(),
		Sim:        sensor.DefaultSimOptions(),
	}
	if *rangeStart > 0 {
		o.Sensor.RangeStart = *rangeStart
	}
	if *rangeEnd > 0 {
		o.Sensor.RangeEnd = *rangeEnd
	}
	if *stepSize > 0 {
		o.Sensor.StepSize = *stepSize
	}
	if *gain >= 0 {
		o.Sensor.Gain = *gain
	}
	if *sweepRate > 0 {
		o.Sensor.SweepRate = *sweepRate
	}
	if *simSpeed > 0 {
		o.Sim.Speed = *simSpeed
	}
	if err := o.validate(); err != nil {
		return options{}, err
	}
	return o, nil
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}
	if flag.NArg() > 0 {
		flag.Usage()
		os.Exit(2)
	}

	opts, err := optionsFromFlags()
	if err != nil {
		log.Fatalf("invalid options: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("starting %s", version.String())
	if err := run(ctx, opts); err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("Graceful shutdown complete")
}
