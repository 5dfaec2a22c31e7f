package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/sparse-speed/internal/api"
	"github.com/banshee-data/sparse-speed/internal/config"
	"github.com/banshee-data/sparse-speed/internal/db"
	"github.com/banshee-data/sparse-speed/internal/monitoring"
	"github.com/banshee-data/sparse-speed/internal/render"
	"github.com/banshee-data/sparse-speed/internal/sensor"
	"github.com/banshee-data/sparse-speed/internal/serialmux"
	"github.com/banshee-data/sparse-speed/internal/session"
)

const (
	renderQueue     = 4
	shutdownTimeout = time.Second
)

type options struct {
	Source     string
	Port       string
	Baud       int
	SocketAddr string
	PcapFile   string
	PcapPort   int
	Realtime   bool
	ConfigFile string
	DBPath     string
	Listen     string
	PlotDir    string

	Sensor sensor.Config
	Sim    sensor.SimOptions

	// onListen is called with the bound HTTP address.
	onListen func(net.Addr)
}

func (o options) validate() error {
	switch o.Source {
	case sourceUART, sourceSocket, sourceSim:
	case sourcePcap:
		if o.PcapFile == "" {
			return errors.New("-source pcap needs -pcap")
		}
	default:
		return fmt.Errorf("unknown source %q, want uart, socket, pcap or sim", o.Source)
	}
	if o.PcapPort < 0 || o.PcapPort > 65535 {
		return fmt.Errorf("invalid pcap port %d", o.PcapPort)
	}
	return o.Sensor.Validate()
}

// newClient builds the sensor client for o.Source. The serial mux is
// returned as well when there is one, since it needs its own monitor loop.
func newClient(o options) (sensor.Client, serialmux.SerialMuxInterface, error) {
	switch o.Source {
	case sourceUART:
		path := o.Port
		if path == "" {
			p, err := serialmux.AutodetectPort()
			if err != nil {
				return nil, nil, err
			}
			monitoring.Logf("using serial port %s", p)
			path = p
		}
		mux, err := serialmux.NewRealSerialMux(path, serialmux.PortOptions{BaudRate: o.Baud})
		if err != nil {
			return nil, nil, err
		}
		return sensor.NewUARTClient(mux, nil), mux, nil
	case sourceSocket:
		return sensor.NewSocketClient(o.SocketAddr, nil), nil, nil
	case sourcePcap:
		return sensor.NewPcapClient(o.PcapFile, sensor.PcapOptions{Port: o.PcapPort, Realtime: o.Realtime}), nil, nil
	case sourceSim:
		return sensor.NewSimulatedClient(o.Sim), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown source %q", o.Source)
}

func loadConfig(path string) (*config.ProcessingConfig, error) {
	if path == "" {
		return config.DefaultProcessingConfig(), nil
	}
	return config.LoadProcessingConfig(path)
}

// run serves one sensor session until ctx is cancelled or the sensor stream
// ends.
func run(ctx context.Context, o options) error {
	cfg, err := loadConfig(o.ConfigFile)
	if err != nil {
		return err
	}
	client, serial, err := newClient(o)
	if err != nil {
		return fmt.Errorf("failed to create sensor client: %w", err)
	}
	if serial != nil {
		defer serial.Close()
	}

	var (
		database *db.DB
		recorder session.Recorder
		store    api.SequenceStore
	)
	if o.DBPath != "" {
		database, err = db.NewDB(o.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()
		recorder = db.NewRecorder(database, nil)
		store = database
	}

	runner := session.NewRunner(client, session.Options{
		Sensor:   o.Sensor,
		Config:   cfg,
		Recorder: recorder,
	})
	updates := runner.Subscribe("render", renderQueue)
	hub := render.NewHub()

	// the stream ending stops everything else
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if serial != nil {
		g.Go(func() error {
			if err := serial.Monitor(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("serial monitor: %w", err)
			}
			monitoring.Logf("monitor routine terminated")
			return nil
		})
	}

	g.Go(func() error {
		defer cancel()
		return runner.Run(gctx)
	})

	g.Go(func() error {
		hub.Run(gctx, updates, func(u *session.Update) *render.Builder {
			return render.NewBuilder(runner.SessionInfo(), o.Sensor.NumSubsweeps, u.UpdateRate)
		})
		return nil
	})

	if o.Listen != "" {
		ln, err := net.Listen("tcp", o.Listen)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("failed to listen on %s: %w", o.Listen, err)
		}
		monitoring.Logf("listening on http://%s", ln.Addr())
		if o.onListen != nil {
			o.onListen(ln.Addr())
		}

		mux := api.NewServer(api.Options{
			Processing: runner,
			Store:      store,
			Frames:     hub,
			Stream:     hub,
			Serial:     serial,
		}).ServeMux()
		if serial != nil {
			serial.AttachAdminRoutes(mux)
		}
		if database != nil {
			if err := database.AttachAdminRoutes(mux); err != nil {
				monitoring.Logf("database admin routes disabled: %v", err)
			}
		}

		server := &http.Server{
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			monitoring.Logf("shutting down HTTP server...")
			// websocket connections are hijacked and not covered by Shutdown
			hub.Close()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				monitoring.Logf("HTTP server shutdown error: %v", err)
				if err := server.Close(); err != nil {
					monitoring.Logf("HTTP server force close error: %v", err)
				}
			}
			return nil
		})
	} else {
		g.Go(func() error {
			<-gctx.Done()
			hub.Close()
			return nil
		})
	}

	err = g.Wait()

	st := runner.Stats()
	monitoring.Logf("processed %s frames (%s missed, %s bad, %s rejected), %s budget overruns",
		humanize.Comma(int64(st.Frames)), humanize.Comma(int64(st.Missed)),
		humanize.Comma(int64(st.BadFrame)), humanize.Comma(int64(st.Rejected)),
		humanize.Comma(int64(st.Budget.Overruns)))

	if o.PlotDir != "" {
		savePlots(o.PlotDir, hub.Latest())
	}
	return err
}

func savePlots(dir string, f *render.Frame) {
	if f == nil {
		monitoring.Logf("no frame to plot")
		return
	}
	prefix := "sparse-speed-" + time.Now().Format("20060102-150405")
	files, err := render.SavePlots(dir, prefix, f)
	for _, path := range files {
		monitoring.Logf("saved %s", path)
	}
	if err != nil {
		monitoring.Logf("failed to save plots: %v", err)
	}
}
