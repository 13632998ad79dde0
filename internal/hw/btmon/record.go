package btmon

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// LinkTypeMonitor is DLT_BLUETOOTH_LINUX_MONITOR. Each record starts with a
// 4-byte big-endian pseudo header: controller index, opcode.
const LinkTypeMonitor layers.LinkType = 254

const pseudoHeaderSize = 4

// Recorder appends received frames to a pcap file that Wireshark and Replay
// can read.
type Recorder struct {
	w     *pcapgo.Writer
	f     io.Closer
	now   func() time.Time
	count int
}

// CreateRecorder truncates path and writes the pcap file header.
func CreateRecorder(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}
	r, err := NewRecorder(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.f = f
	return r, nil
}

// NewRecorder writes the pcap file header to w.
func NewRecorder(w io.Writer) (*Recorder, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(HeaderSize+MaxPayload+pseudoHeaderSize, LinkTypeMonitor); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Recorder{w: pw, now: time.Now}, nil
}

// Record stores one frame.
func (r *Recorder) Record(h Header, payload []byte) error {
	buf := make([]byte, pseudoHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:], h.Index)
	binary.BigEndian.PutUint16(buf[2:], h.Opcode)
	copy(buf[pseudoHeaderSize:], payload)

	ci := gopacket.CaptureInfo{
		Timestamp:     r.now(),
		CaptureLength: len(buf),
		Length:        len(buf),
	}
	if err := r.w.WritePacket(ci, buf); err != nil {
		return fmt.Errorf("write frame %d: %w", r.count, err)
	}
	r.count++
	return nil
}

// Count returns how many frames were recorded.
func (r *Recorder) Count() int {
	return r.count
}

// Close closes the underlying file, if the recorder owns one.
func (r *Recorder) Close() error {
	if r.f == nil {
		return nil
	}
	return r.f.Close()
}
