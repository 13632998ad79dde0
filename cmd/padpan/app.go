package main

import (
	"context"
	"fmt"

	"github.com/cjeanneret/PadPan/internal/config"
	"github.com/cjeanneret/PadPan/internal/debug"
	"github.com/cjeanneret/PadPan/internal/eventloop"
	"github.com/cjeanneret/PadPan/internal/hw/btmon"
	"github.com/cjeanneret/PadPan/internal/hw/dynamixel"
	"github.com/cjeanneret/PadPan/internal/hw/gpio"
	"github.com/cjeanneret/PadPan/internal/logic/decode"
	"github.com/cjeanneret/PadPan/internal/logic/motion"
	"github.com/cjeanneret/PadPan/internal/web"
)

// frameSource is a live channel or a replay.
type frameSource interface {
	eventloop.Handler
	Close() error
}

// app owns everything between the frame source and the servos. All of it
// runs on the goroutine that calls run.
type app struct {
	loop     *eventloop.Loop
	stop     *eventloop.Notifier
	bus      *dynamixel.Bus
	sim      *dynamixel.Simulator // set when the bus is simulated
	servos   []*dynamixel.Servo
	tilt     *motion.Mapper
	pan      *motion.Mapper
	decoder  *decode.Decoder
	source   frameSource
	replay   *btmon.Replay
	recorder *btmon.Recorder

	quit    chan struct{} // closed by shutdown to end the signal watcher
	watcher chan struct{} // closed when the signal watcher has returned

	stopping bool
	closed   bool
}

// newApp brings the hardware up in dependency order. On error everything
// opened so far is released.
func newApp(cfg *config.Config, g gpio.Driver) (*app, error) {
	a := &app{}
	if err := a.open(cfg, g); err != nil {
		a.shutdown()
		return nil, err
	}
	return a, nil
}

func (a *app) open(cfg *config.Config, g gpio.Driver) error {
	var err error
	debug.Step(1, "Opening servo bus")
	var port dynamixel.Port
	if cfg.Bus.Mock {
		a.sim = dynamixel.NewSimulator(uint8(cfg.Tilt.ID), uint8(cfg.Pan.ID))
		port = a.sim
		debug.Info("Using simulated servos %d and %d", cfg.Tilt.ID, cfg.Pan.ID)
	} else {
		sp, err := dynamixel.OpenSerial(cfg.Bus.Device, cfg.Bus.BaudRate, cfg.BusTimeout())
		if err != nil {
			return err
		}
		port = sp
		debug.Value("Serial device", cfg.Bus.Device)
		debug.Value("Baud rate", cfg.Bus.BaudRate)
	}
	a.bus, err = dynamixel.NewBus(port, g, cfg.Bus.DirectionPin)
	if err != nil {
		port.Close()
		return fmt.Errorf("init bus: %w", err)
	}

	debug.Step(2, "Configuring servos")
	tiltServo := a.bus.Servo(uint8(cfg.Tilt.ID))
	panServo := a.bus.Servo(uint8(cfg.Pan.ID))
	for _, s := range []*dynamixel.Servo{tiltServo, panServo} {
		if err := s.Ping(); err != nil {
			return fmt.Errorf("servo %d not responding: %w", s.ID(), err)
		}
		a.servos = append(a.servos, s)
	}
	debug.PrintStruct("Motion config", cfg.Motion)

	a.tilt, err = motion.New("tilt", tiltServo, cfg.AxisMotion(cfg.Tilt))
	if err != nil {
		return fmt.Errorf("init tilt axis: %w", err)
	}
	a.pan, err = motion.New("pan", panServo, cfg.AxisMotion(cfg.Pan))
	if err != nil {
		return fmt.Errorf("init pan axis: %w", err)
	}
	a.decoder = decode.New(a.tilt, a.pan)

	debug.Step(3, "Opening input source")
	for _, addr := range cfg.Input.Controllers {
		debug.Value("Expected controller", addr)
	}
	if cfg.Input.RecordFile != "" {
		a.recorder, err = btmon.CreateRecorder(cfg.Input.RecordFile)
		if err != nil {
			return err
		}
		debug.Value("Recording to", cfg.Input.RecordFile)
	}
	switch cfg.Input.Source {
	case config.SourceReplay:
		a.replay, err = btmon.OpenReplay(cfg.Input.ReplayFile, cfg.Input.ReplaySpeed, a.onFrame)
		if err != nil {
			return err
		}
		a.source = a.replay
		debug.Value("Replaying", cfg.Input.ReplayFile)
		debug.Value("Replay speed", cfg.Input.ReplaySpeed)
	default:
		ch, err := btmon.Open(a.onFrame)
		if err != nil {
			return err
		}
		a.source = ch
	}

	debug.Step(4, "Starting event loop")
	a.loop, err = eventloop.New()
	if err != nil {
		return err
	}
	a.stop, err = eventloop.NewNotifier(a.requestStop)
	if err != nil {
		return err
	}
	if err := a.loop.Register(a); err != nil {
		return err
	}
	if err := a.loop.Register(a.stop); err != nil {
		return err
	}
	if a.replay != nil && a.replay.Finished() {
		// Empty capture: the timer never fires.
		return a.stop.Notify()
	}
	return nil
}

// Fd and HandleReady register the app in place of its source so a finished
// replay can end the loop.
func (a *app) Fd() int {
	return a.source.Fd()
}

func (a *app) HandleReady() {
	a.source.HandleReady()
	if a.replay != nil && a.replay.Finished() {
		debug.Info("Replay delivered %d frames, %d rejected by the decoder", a.replay.Frames(), a.decoder.Rejected())
		a.requestStop()
	}
}

// onFrame is the frame callback shared by every source.
func (a *app) onFrame(h btmon.Header, payload []byte) {
	debug.Trace("frame opcode=0x%04x index=%d len=%d", h.Opcode, h.Index, h.Len)
	if a.recorder != nil {
		if err := a.recorder.Record(h, payload); err != nil {
			debug.Errorf("record frame: %v", err)
		}
	}
	a.decoder.ProcessPacket(payload)
}

// requestStop runs on the loop goroutine. Closing the epoll descriptor makes
// the next wait fail, which run reports as a clean exit.
func (a *app) requestStop() {
	if a.stopping {
		return
	}
	a.stopping = true
	a.loop.Close()
}

// stopOn wakes the loop for a stop once ctx is done. shutdown waits for the
// watcher to return before closing the wakeup pipe.
func (a *app) stopOn(ctx context.Context) {
	a.quit = make(chan struct{})
	a.watcher = make(chan struct{})
	go func() {
		defer close(a.watcher)
		select {
		case <-ctx.Done():
			if err := a.stop.Notify(); err != nil {
				debug.Error(err)
			}
		case <-a.quit:
		}
	}()
}

// run dispatches until a stop is requested or the loop fails.
func (a *app) run() error {
	err := a.loop.Run()
	if a.stopping {
		return nil
	}
	return err
}

// shutdown releases holding torque and closes everything newApp opened. It
// is safe to call more than once.
func (a *app) shutdown() {
	if a.closed {
		return
	}
	a.closed = true

	if a.watcher != nil {
		close(a.quit)
		<-a.watcher
	}
	for _, s := range a.servos {
		if err := s.SetTorqueEnabled(false); err != nil {
			debug.Errorf("release servo %d: %v", s.ID(), err)
		}
	}
	if a.loop != nil && !a.stopping {
		a.loop.Close()
	}
	if a.stop != nil {
		a.stop.Close()
	}
	if a.source != nil {
		a.source.Close()
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			debug.Errorf("close recording: %v", err)
		} else {
			debug.Info("Recorded %d frames", a.recorder.Count())
		}
	}
	if a.bus != nil {
		a.bus.Close()
	}
}

// states returns both axis snapshots; safe from any goroutine.
func (a *app) states() []motion.State {
	return []motion.State{a.tilt.State(), a.pan.State()}
}

func (a *app) configView(cfg *config.Config) web.ConfigView {
	tiers := make([]uint16, motion.NumTiers)
	for i := range tiers {
		tiers[i] = motion.Tier(i).Speed()
	}
	return web.ConfigView{
		Source:          cfg.Input.Source,
		Device:          cfg.Bus.Device,
		MockBus:         cfg.Bus.Mock,
		PanID:           cfg.Pan.ID,
		TiltID:          cfg.Tilt.ID,
		NeutralPosition: cfg.Motion.NeutralPosition,
		LowPosition:     cfg.Motion.LowPosition,
		HighPosition:    cfg.Motion.HighPosition,
		LockoutMs:       cfg.Motion.LockoutMs,
		SettleMs:        cfg.Motion.SettleMs,
		Tiers:           tiers,
	}
}
