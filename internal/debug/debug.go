package debug

import (
	"io"
	"log"
	"os"
	"strings"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (startup, errors, dropped frames)
	LevelLive    = 2 // Live info (axis transitions)
	LevelVerbose = 3 // Verbose (config details, every decoded sample)
	LevelTrace   = 4 // Trace (bus packets, frame dumps)
)

var (
	level  int
	out    io.Writer = os.Stdout
	logger *log.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (startup, errors)
// 2 = live info (axis speed/direction changes)
// 3 = verbose (config, every sample)
// 4 = trace (bus traffic, raw frames)
func Init(debugLevel int) {
	level = debugLevel
	if level > LevelOff {
		logger = log.New(out, "[PadPan] ", log.LstdFlags|log.Lmicroseconds)
	} else {
		logger = nil
	}
}

// SetOutput redirects all debug output to w. It can be called before or after Init.
func SetOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	out = w
	if logger != nil {
		logger.SetOutput(w)
	}
}

// Level returns the current debug level.
func Level() int {
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return level >= minLevel
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO] "+format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("═══════════════════════════════════════")
		logger.Printf("  %s", title)
		logger.Printf("═══════════════════════════════════════")
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] "+format, args...)
	}
}

// Axis prints an axis transition (level 2).
func Axis(axis, tier string, positive bool) {
	if level >= LevelLive && logger != nil {
		dir := "negative"
		if positive {
			dir = "positive"
		}
		logger.Printf("[LIVE] Axis %s: speed=%s direction=%s", axis, tier, dir)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] "+format, args...)
	}
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] %s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		logger.Printf("  %s", name)
		logger.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] Step %d: %s", num, description)
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO]   %s = %v", name, value)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message.
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[TRACE] "+format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[GPIO] %s pin=%d value=%v", operation, pin, value)
	}
}

// Bus prints a raw servo bus transfer (level 4).
func Bus(direction string, data []byte) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[BUS] %s % X", direction, data)
	}
}

// Packet dumps a received frame payload, 16 bytes per line (level 4).
func Packet(payload []byte) {
	if level < LevelTrace || logger == nil {
		return
	}
	logger.Printf("[TRACE] packet dump, %d bytes", len(payload))
	for off := 0; off < len(payload); off += 16 {
		end := min(off+16, len(payload))
		logger.Printf("[TRACE]   %04x  % x", off, payload[off:end])
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[ERROR] %v", err)
	}
}

// Errorf formats and prints an error message (level 1+).
func Errorf(format string, args ...interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[ERROR] "+strings.TrimSuffix(format, "\n"), args...)
	}
}
