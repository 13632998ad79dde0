package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cjeanneret/PadPan/internal/config"
	"github.com/cjeanneret/PadPan/internal/debug"
	"github.com/cjeanneret/PadPan/internal/hw/gpio"
	"github.com/cjeanneret/PadPan/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start status web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	replayFile := flag.String("replay", "", "replay monitor frames from a pcap file instead of the live channel")
	replaySpeed := flag.Float64("replay_speed", -1, "replay pacing multiplier (0 = back to back)")
	recordFile := flag.String("record", "", "record received monitor frames to a pcap file")
	debugLevel := flag.Int("debug", -1, "override debug level (0-4)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	o := overrides{
		ReplayFile:  *replayFile,
		ReplaySpeed: *replaySpeed,
		RecordFile:  *recordFile,
		DebugLevel:  *debugLevel,
	}
	if err := validateCLIOverrides(o); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, o)

	// Logging: stdout, plus a rotated file and the web stream when enabled.
	writers := []io.Writer{os.Stdout}
	if cfg.Defaults.LogFile != "" {
		lf := debug.RotatingFile(cfg.Defaults.LogFile)
		defer lf.Close()
		writers = append(writers, lf)
	}
	var broadcaster *web.StatusBroadcaster
	if webPort.port() > 0 {
		broadcaster = web.NewStatusBroadcaster()
		writers = append(writers, web.BroadcastWriter(broadcaster))
	}
	debug.SetOutput(io.MultiWriter(writers...))
	debug.Init(cfg.Defaults.DebugLevel)

	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", debug.Level())
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)

	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	a, err := newApp(cfg, gpioDriver)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer a.shutdown()
	a.stopOn(ctx)

	if port := webPort.port(); port > 0 {
		srv := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, a.states, a.configView(cfg))
		go func() {
			if err := srv.Run(ctx); err != nil {
				debug.Errorf("web server: %v", err)
			}
		}()
	}

	debug.Summary("Ready: waiting for controller input")
	if err := a.run(); err != nil {
		a.shutdown()
		log.Fatalf("event loop failed: %v", err)
	}
	debug.Section("Shutdown")
}

// overrides holds CLI values that take precedence over the config file.
// Negative numbers and empty strings mean "not set".
type overrides struct {
	ReplayFile  string
	ReplaySpeed float64
	RecordFile  string
	DebugLevel  int
}

// validateCLIOverrides checks that set overrides are within valid ranges.
func validateCLIOverrides(o overrides) error {
	if math.IsNaN(o.ReplaySpeed) || math.IsInf(o.ReplaySpeed, 0) {
		return fmt.Errorf("replay_speed must be a finite number, got %g", o.ReplaySpeed)
	}
	if o.ReplaySpeed > 1000 {
		return fmt.Errorf("replay_speed must be at most 1000, got %g", o.ReplaySpeed)
	}
	if o.DebugLevel > 4 {
		return fmt.Errorf("debug level must be between 0 and 4, got %d", o.DebugLevel)
	}
	return nil
}

// applyOverrides mutates cfg with the overrides that were set.
func applyOverrides(cfg *config.Config, o overrides) {
	if o.ReplayFile != "" {
		cfg.Input.Source = config.SourceReplay
		cfg.Input.ReplayFile = o.ReplayFile
	}
	if o.ReplaySpeed >= 0 {
		cfg.Input.ReplaySpeed = o.ReplaySpeed
	}
	if o.RecordFile != "" {
		cfg.Input.RecordFile = o.RecordFile
	}
	if o.DebugLevel >= 0 {
		cfg.Defaults.DebugLevel = o.DebugLevel
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
