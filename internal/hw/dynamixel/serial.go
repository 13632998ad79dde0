package dynamixel

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// OpenSerial opens device as an 8N1 line at baud with the given status read
// timeout. The returned port satisfies Port.
func OpenSerial(device string, baud int, timeout time.Duration) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", device, err)
	}
	return port, nil
}
