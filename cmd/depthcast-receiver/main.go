package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/depthcast/internal/codec"
	"github.com/banshee-data/depthcast/internal/config"
	"github.com/banshee-data/depthcast/internal/db"
	"github.com/banshee-data/depthcast/internal/display"
	"github.com/banshee-data/depthcast/internal/monitor"
	"github.com/banshee-data/depthcast/internal/monitoring"
	"github.com/banshee-data/depthcast/internal/stream"
	"github.com/banshee-data/depthcast/internal/transport"
	"github.com/banshee-data/depthcast/internal/transport/pcap"
	"github.com/banshee-data/depthcast/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to a JSON tuning file (built-in defaults when empty)")
	transportName = flag.String("transport", "udp", "Transport to listen on: udp or tcp")
	singleShot    = flag.Bool("single-shot", false, "With tcp, exit after the first sender disconnects")
	monitorAddr   = flag.String("monitor", "", "Serve the HTTP monitor on this address, e.g. :8080")
	mosaicFile    = flag.String("mosaic", "", "Rewrite the display mosaic to this JPEG file")
	forwardAddr   = flag.String("forward", "", "Forward received datagrams to host:port")
	recordFile    = flag.String("record", "", "Record received datagrams to a pcap file")
	replayFile    = flag.String("replay", "", "Replay a pcap file instead of listening")
	replaySpeed   = flag.Float64("speed", 1.0, "Replay speed multiplier")
	dbFile        = flag.String("db", "", "Store per-second frame rollups in this SQLite file")
	plotsDir      = flag.String("plots", "", "Write frame rate plots to this directory on shutdown")
	versionFlag   = flag.Bool("version", false, "Print version information and exit")
	debugMode     = flag.Bool("debug", false, "Log transient errors")
	logFile       = flag.String("log-file", "", "Also write logs to this rotated file")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <port>\n", os.Args[0])
	flag.PrintDefaults()
}

func parsePort(args []string) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("expected <port>")
	}
	port, err := strconv.Atoi(args[0])
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", args[0])
	}
	return port, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Empty(), nil
	}
	return config.Load(path)
}

// tapFunc fans each received datagram out to the forwarder and recorder.
// It returns nil when neither is configured.
func tapFunc(fwd *transport.Forwarder, rec *pcap.Recorder) func([]byte) {
	if fwd == nil && rec == nil {
		return nil
	}
	failures := monitoring.NewThrottle(5 * time.Second)
	return func(datagram []byte) {
		if fwd != nil {
			fwd.ForwardAsync(datagram)
		}
		if rec != nil {
			if err := rec.Write(datagram); err != nil {
				failures.Logf("Failed to record datagram: %v", err)
			}
		}
	}
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.String("depthcast-receiver"))
		return
	}

	port, err := parsePort(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		usage()
		os.Exit(1)
	}
	kind, err := transport.ParseKind(*transportName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *logFile != "" {
		defer monitoring.SetupLogFile(*logFile, 10, 3).Close()
	}
	monitoring.SetDebug(*debugMode)
	log.Print(version.String("depthcast-receiver"))

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	addr := net.JoinHostPort("", strconv.Itoa(port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats := monitor.NewStats(nil)

	var fwd *transport.Forwarder
	if *forwardAddr != "" {
		fwd, err = transport.NewForwarder(*forwardAddr, cfg.GetForwardQueue(), stats, time.Minute)
		if err != nil {
			log.Fatalf("Failed to set up forwarding: %v", err)
		}
		defer fwd.Close()
		fwd.Start(ctx)
		log.Printf("Forwarding datagrams to %s", *forwardAddr)
	}

	var rec *pcap.Recorder
	if *recordFile != "" {
		rec, err = pcap.NewRecorder(*recordFile, pcap.RecorderConfig{Port: port})
		if err != nil {
			log.Fatalf("Failed to start recording: %v", err)
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Printf("Failed to close recording: %v", err)
			}
			log.Printf("Recorded %d datagrams to %s", rec.Count(), *recordFile)
		}()
	}

	readTimeout := cfg.GetDatagramTimeout()
	staleAfter := cfg.GetDatagramStaleness()
	if kind == transport.Stream {
		readTimeout = cfg.GetStreamTimeout()
		staleAfter = cfg.GetStreamStaleness()
	}
	receiver := stream.NewReceiver(stream.ReceiverConfig{
		Addr:        addr,
		Transport:   kind,
		MaxPayload:  cfg.GetMaxPayloadSize(),
		ReadTimeout: readTimeout,
		Staleness:   staleAfter,
		SingleShot:  *singleShot,
		Observer:    stats,
		Frames:      stats,
		Tap:         tapFunc(fwd, rec),
	})
	defer receiver.Close()

	var frameDB *db.DB
	var session uuid.UUID
	if *dbFile != "" {
		frameDB, err = db.Open(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer frameDB.Close()
		session, err = frameDB.StartSession(ctx, kind.String(), addr, time.Now())
		if err != nil {
			log.Fatalf("Failed to start session: %v", err)
		}
		log.Printf("Logging frame rollups to %s (session %s)", *dbFile, session)
	}

	compositor := display.NewCompositor(cfg.MapperConfig(), cfg.ProjectorConfig().Initial)
	mosaicCodec := codec.New(cfg.CodecOptions())
	latest := display.NewLatest(mosaicCodec)
	sinks := []display.Sink{latest}
	if *mosaicFile != "" {
		sinks = append(sinks, display.FileSink{Path: *mosaicFile, Codec: mosaicCodec})
	}

	// Create a wait group for the display, reporter and HTTP routines
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		display.Loop(ctx, cfg.GetDisplayInterval(), nil, compositor, receiver, sinks...)
	}()

	reporter := &monitor.Reporter{Stats: stats, Interval: cfg.GetStatsInterval(), Session: session}
	if frameDB != nil {
		reporter.Store = frameDB
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		reporter.Run(ctx)
	}()

	if *monitorAddr != "" {
		wsCfg := monitor.WebServerConfig{
			Address:      *monitorAddr,
			Stats:        stats,
			Source:       receiver,
			Compositor:   compositor,
			Mosaic:       latest,
			DB:           frameDB,
			Transport:    kind,
			ReceiverAddr: addr,
		}
		if kind == transport.Stream {
			wsCfg.Commander = receiver
		}
		ws, err := monitor.NewWebServer(wsCfg)
		if err != nil {
			log.Fatalf("Failed to create monitor: %v", err)
		}
		if err := ws.Listen(); err != nil {
			log.Fatalf("Failed to start monitor: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Start(ctx); err != nil {
				log.Printf("Monitor stopped: %v", err)
			}
		}()
	}

	var runErr error
	if *replayFile != "" {
		n, err := receiver.Replay(ctx, *replayFile, port, *replaySpeed)
		log.Printf("Replayed %d datagrams from %s", n, *replayFile)
		runErr = err
	} else {
		if err := receiver.Listen(); err != nil {
			log.Fatalf("Failed to listen on %s: %v", addr, err)
		}
		runErr = receiver.Run(ctx)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Printf("Receiver stopped: %v", runErr)
	}

	// Replay and single-shot sessions end on their own; stop the rest.
	stop()
	wg.Wait()

	if frameDB != nil {
		if err := frameDB.EndSession(context.Background(), session, time.Now()); err != nil {
			log.Printf("Failed to end session: %v", err)
		}
	}
	if *plotsDir != "" {
		paths, err := monitor.WritePlots(*plotsDir, stats.History())
		if err != nil {
			log.Printf("Failed to write plots: %v", err)
		}
		for _, p := range paths {
			log.Printf("Wrote %s", p)
		}
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		os.Exit(1)
	}
}
