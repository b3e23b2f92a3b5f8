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
	"syscall"

	"github.com/banshee-data/depthcast/internal/camera"
	"github.com/banshee-data/depthcast/internal/config"
	"github.com/banshee-data/depthcast/internal/monitoring"
	"github.com/banshee-data/depthcast/internal/stream"
	"github.com/banshee-data/depthcast/internal/transport"
	"github.com/banshee-data/depthcast/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to a JSON tuning file (built-in defaults when empty)")
	transportName = flag.String("transport", "udp", "Transport to send on: udp or tcp")
	streamsFlag   = flag.String("streams", "", "Comma-separated frame types to send, e.g. depth,map,raw3d (default depth mode)")
	switchable    = flag.Bool("switchable", false, "Let a tcp receiver switch between color and depth mode")
	cameraKind    = flag.String("camera", "synthetic", "Camera source: synthetic or pngdir")
	cameraDir     = flag.String("dir", "", "Directory of 16-bit PNG depth frames for -camera pngdir")
	cameraFPS     = flag.Float64("fps", 30, "Camera frame rate")
	sendInterval  = flag.Duration("interval", 0, "Send tick interval (overrides config send_interval)")
	versionFlag   = flag.Bool("version", false, "Print version information and exit")
	debugMode     = flag.Bool("debug", false, "Log transient errors")
	logFile       = flag.String("log-file", "", "Also write logs to this rotated file")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <receiver_ip> <port>\n", os.Args[0])
	flag.PrintDefaults()
}

// receiverAddr validates the positional arguments.
func receiverAddr(args []string) (string, error) {
	if len(args) != 2 {
		return "", errors.New("expected <receiver_ip> <port>")
	}
	host := args[0]
	if host == "" {
		return "", errors.New("receiver address is empty")
	}
	port, err := strconv.Atoi(args[1])
	if err != nil || port < 1 || port > 65535 {
		return "", fmt.Errorf("invalid port %q", args[1])
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Empty(), nil
	}
	return config.Load(path)
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.String("depthcast-sender"))
		return
	}

	addr, err := receiverAddr(flag.Args())
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
	streams := stream.DepthMode
	if *streamsFlag != "" {
		if streams, err = stream.ParseStreamSet(*streamsFlag); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if *logFile != "" {
		defer monitoring.SetupLogFile(*logFile, 10, 3).Close()
	}
	monitoring.SetDebug(*debugMode)
	log.Print(version.String("depthcast-sender"))

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	interval := cfg.GetSendInterval()
	if *sendInterval > 0 {
		interval = *sendInterval
	}

	cam, err := camera.Open(camera.Options{
		Kind: *cameraKind,
		Dir:  *cameraDir,
		FPS:  *cameraFPS,
	})
	if err != nil {
		log.Fatalf("Failed to open camera: %v", err)
	}
	defer cam.Close()

	sender := stream.NewSender(stream.SenderConfig{
		Addr:             addr,
		Transport:        kind,
		Streams:          streams,
		Switchable:       *switchable,
		Interval:         interval,
		CaptureTimeout:   cfg.GetCaptureTimeout(),
		ReconnectBackoff: cfg.GetReconnectBackoff(),
		Mapper:           cfg.MapperConfig(),
		Codec:            cfg.CodecOptions(),
	}, cam)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Sending %s over %s to %s (sender %s)", streams, kind, addr, sender.ID())
	if err := sender.Run(ctx); err != nil {
		log.Printf("Sender stopped: %v", err)
		stop()
		cam.Close()
		os.Exit(1)
	}

	st := sender.Stats()
	log.Printf("Sender stopped: captured=%d sent=%d bytes=%d send_errors=%d sessions=%d",
		st.Captured, st.FramesSent, st.BytesSent, st.SendErrors, st.Sessions)
}
