// Command tscoreingestd wires a Manager against a bus address and a sink
// set chosen by flags, then runs until SIGINT/SIGTERM. Flag/log shape
// grounded on the teacher's cmd/azurl/main.go; daemon signal handling
// grounded on ClusterCockpit/cc-backend's cmd/cc-backend/main.go.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus"

	tscore "github.com/signalgrid/tscore"
	"github.com/signalgrid/tscore/internal/dispatch"
	"github.com/signalgrid/tscore/internal/frame"
	"github.com/signalgrid/tscore/internal/framing"
	"github.com/signalgrid/tscore/internal/project"
	"github.com/signalgrid/tscore/internal/transport"
)

const (
	exitOK              = 0
	exitConfigError     = 2
	exitTransportFailed = 3
	exitProjectFailed   = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	busFlag := flag.String("bus", "", "Bus address URI (e.g. serial:///dev/ttyUSB0?baud=115200, tcp://host:port)")
	modeFlag := flag.String("mode", "quickplot", "Operating mode: quickplot, project, json")
	projectFlag := flag.String("project", "", "Path to a project descriptor JSON file (required for -mode=project)")
	frameModeFlag := flag.String("frame-mode", "end", "Frame delimitation policy: end, start-end, start-only, none")
	startSeqFlag := flag.String("start-seq", "", "Frame start delimiter (literal bytes; \\n, \\r, \\t escapes recognized)")
	endSeqFlag := flag.String("end-seq", "\\n", "Frame end delimiter (literal bytes; \\n, \\r, \\t escapes recognized)")
	checksumFlag := flag.String("checksum", "none", "Checksum name (none, CRC-8, CRC-16/CCITT-FALSE, ...)")
	consoleFlag := flag.Bool("console", true, "Enable the raw console sink")
	csvDirFlag := flag.String("csv-dir", "", "Directory to write rotated CSV archives to (disabled if empty)")
	csvRowsFlag := flag.Int("csv-max-rows", 50000, "Row count at which a CSV archive file rotates")
	pluginSocketFlag := flag.String("plugin-socket", "", "Unix socket path to broadcast frames over the plugin protocol (disabled if empty)")
	logLevelFlag := flag.String("log-level", "info", "Log level: debug, info, warn, error")

	flag.Usage = printUsage
	flag.Parse()

	log, err := newLogger(*logLevelFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level: %v\n", err)
		return exitConfigError
	}
	defer log.Sync()

	if *busFlag == "" {
		log.Error("missing -bus", zap.Strings("registered-schemes", transport.RegisteredSchemes()))
		return exitConfigError
	}

	mode, err := parseMode(*modeFlag)
	if err != nil {
		log.Error("invalid -mode", zap.Error(err))
		return exitConfigError
	}

	var descriptor *project.Descriptor
	var decoderScript string
	if mode == frame.ProjectFile {
		if *projectFlag == "" {
			log.Error("-mode=project requires -project")
			return exitConfigError
		}
		raw, err := os.ReadFile(*projectFlag)
		if err != nil {
			log.Error("failed to read project descriptor", zap.Error(err))
			return exitProjectFailed
		}
		descriptor, err = project.Parse(raw)
		if err != nil {
			log.Error("failed to parse project descriptor", zap.Error(err))
			return exitProjectFailed
		}
		if descriptor.Decoder != nil {
			decoderScript = descriptor.Decoder.Source
		}
	}

	framingMode, err := parseFrameMode(*frameModeFlag)
	if err != nil {
		log.Error("invalid -frame-mode", zap.Error(err))
		return exitConfigError
	}

	framingCfg := framing.Config{
		Mode:         framingMode,
		StartSeq:     decodeSeq(*startSeqFlag),
		EndSeq:       decodeSeq(*endSeqFlag),
		ChecksumName: *checksumFlag,
	}

	projectTitle := "frames"
	if descriptor != nil && descriptor.Title != "" {
		projectTitle = descriptor.Title
	}

	hub := dispatch.NewHub(log)
	setupSinks(log, hub, *consoleFlag, *csvDirFlag, *csvRowsFlag, *pluginSocketFlag, projectTitle)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hub.Close(ctx)
	}()

	metrics := tscore.NewPrometheusMetrics(prometheus.DefaultRegisterer)

	mgr := tscore.New(hub,
		tscore.WithBusAddress(*busFlag),
		tscore.WithFramingConfig(framingCfg),
		tscore.WithOperatingMode(mode),
		tscore.WithProjectDescriptor(descriptor),
		tscore.WithDecoderScript(decoderScript),
		tscore.WithLogger(log),
		tscore.WithMetrics(metrics),
	)

	if err := mgr.Connect(); err != nil {
		log.Error("connect failed", zap.Error(err))
		if errors.Is(err, tscore.ErrInvalidConfig) || errors.Is(err, tscore.ErrUnsupportedBus) {
			return exitConfigError
		}
		return exitTransportFailed
	}
	log.Info("connected", zap.String("bus", *busFlag), zap.String("mode", mode.String()))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	log.Info("shutting down")
	if err := mgr.Disconnect(); err != nil {
		log.Error("disconnect failed", zap.Error(err))
	}
	return exitOK
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	var l zap.AtomicLevel
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg.Level = l
	return cfg.Build()
}

func parseMode(s string) (frame.OperatingMode, error) {
	switch strings.ToLower(s) {
	case "project":
		return frame.ProjectFile, nil
	case "quickplot", "":
		return frame.QuickPlot, nil
	case "json":
		return frame.DeviceSendsJSON, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

func parseFrameMode(s string) (framing.Mode, error) {
	switch strings.ToLower(s) {
	case "end", "":
		return framing.EndDelimiter, nil
	case "start-end":
		return framing.StartAndEndDelimiter, nil
	case "start-only":
		return framing.StartOnly, nil
	case "none":
		return framing.NoDelimiters, nil
	default:
		return 0, fmt.Errorf("unknown frame-mode %q", s)
	}
}

// decodeSeq turns a flag value into delimiter bytes. "\n"/"\r"/"\t" are
// recognized as escapes; anything else is taken literally.
func decodeSeq(s string) []byte {
	r := strings.NewReplacer(`\n`, "\n", `\r`, "\r", `\t`, "\t")
	return []byte(r.Replace(s))
}

func setupSinks(log *zap.Logger, hub *dispatch.Hub, console bool, csvDir string, csvMaxRows int, pluginSocket, projectTitle string) {
	if console {
		sink := dispatch.NewConsoleSink(os.Stdout, dispatch.RenderText, true)
		hub.Register(sink)
		hub.RegisterRaw(sink)
	}

	if csvDir != "" {
		w, err := dispatch.NewLocalCSVWriter(csvDir, projectTitle, csvMaxRows)
		if err != nil {
			log.Error("failed to start csv sink, skipping", zap.Error(err))
		} else {
			hub.Register(dispatch.NewCSVSink(w, 1024))
		}
	}

	if pluginSocket != "" {
		tr, err := dispatch.NewUnixSocketTransport(pluginSocket, log)
		if err != nil {
			log.Error("failed to start plugin socket, skipping", zap.Error(err))
		} else {
			hub.Register(dispatch.NewPluginSink(tr, log, 256))
		}
	}
}

func printUsage() {
	fmt.Println("tscoreingestd - telemetry ingestion daemon")
	fmt.Println("Usage:")
	fmt.Println("  tscoreingestd -bus <address> [-mode quickplot|project|json] [-project <file>] [flags]")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  tscoreingestd -bus serial:///dev/ttyUSB0?baud=115200 -frame-mode end -end-seq '\\n'")
	fmt.Println("  tscoreingestd -bus tcp://10.0.0.5:9000 -mode project -project ./sensor.json -csv-dir ./out")
	flag.PrintDefaults()
}
