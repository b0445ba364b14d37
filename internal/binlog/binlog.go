// Package binlog implements the gateway's rotating binary record: a flat
// stream of timestamped records behind a small file header, rotated by size
// with best-effort retention of the newest segments.
package binlog

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/banshee-data/rover.gateway/internal/robot"
)

// Magic identifies a gateway log segment ("BLWG" little-endian).
const Magic = 0x47574C42

// FormatVersion is the current file format version.
const FormatVersion = 1

// RecordType tags each record's payload.
type RecordType uint8

const (
	// RecordState carries an encoded robot.StateSample.
	RecordState RecordType = 1
	// RecordCmd carries an encoded robot.MotorCommandsSample.
	RecordCmd RecordType = 2
	// RecordEvent carries an encoded robot.EventSample.
	RecordEvent RecordType = 3
)

// String returns a short token for log lines and CSV output.
func (t RecordType) String() string {
	switch t {
	case RecordState:
		return "state"
	case RecordCmd:
		return "cmd"
	case RecordEvent:
		return "event"
	}
	return "unknown"
}

// ExpectedPayloadSize returns the payload size a well-formed record of type
// t carries, or 0 for unknown types.
func ExpectedPayloadSize(t RecordType) int {
	switch t {
	case RecordState:
		return robot.StateSampleSize
	case RecordCmd:
		return robot.MotorCommandsSampleSize
	case RecordEvent:
		return robot.EventSampleSize
	}
	return 0
}

// On-disk sizes.
const (
	FileHeaderSize   = 8
	RecordHeaderSize = 20
)

// RecordHeader precedes every record payload.
type RecordHeader struct {
	Type       RecordType
	PayloadLen uint16
	TS         robot.Timestamps
}

// encodeFileHeader renders the 8-byte segment header.
func encodeFileHeader() []byte {
	b := make([]byte, FileHeaderSize)
	binary.LittleEndian.PutUint32(b[0:], Magic)
	binary.LittleEndian.PutUint16(b[4:], FormatVersion)
	binary.LittleEndian.PutUint16(b[6:], 0)
	return b
}

// encodeRecordHeader renders the 20-byte record header.
func encodeRecordHeader(h RecordHeader) []byte {
	b := make([]byte, RecordHeaderSize)
	b[0] = byte(h.Type)
	b[1] = 0
	binary.LittleEndian.PutUint16(b[2:], h.PayloadLen)
	binary.LittleEndian.PutUint64(b[4:], math.Float64bits(h.TS.EpochS))
	binary.LittleEndian.PutUint64(b[12:], math.Float64bits(h.TS.MonoS))
	return b
}

// ReadFileHeader consumes and validates a segment header.
func ReadFileHeader(r io.Reader) error {
	b := make([]byte, FileHeaderSize)
	if _, err := io.ReadFull(r, b); err != nil {
		return fmt.Errorf("read file header: %w", err)
	}
	if binary.LittleEndian.Uint32(b[0:]) != Magic {
		return fmt.Errorf("bad magic 0x%08X", binary.LittleEndian.Uint32(b[0:]))
	}
	if v := binary.LittleEndian.Uint16(b[4:]); v != FormatVersion {
		return fmt.Errorf("unsupported format version %d", v)
	}
	return nil
}

// ReadRecord consumes one record. io.EOF marks a clean end of segment.
func ReadRecord(r io.Reader) (RecordHeader, []byte, error) {
	hb := make([]byte, RecordHeaderSize)
	if _, err := io.ReadFull(r, hb); err != nil {
		if err == io.EOF {
			return RecordHeader{}, nil, io.EOF
		}
		return RecordHeader{}, nil, fmt.Errorf("read record header: %w", err)
	}

	h := RecordHeader{
		Type:       RecordType(hb[0]),
		PayloadLen: binary.LittleEndian.Uint16(hb[2:]),
		TS: robot.Timestamps{
			EpochS: math.Float64frombits(binary.LittleEndian.Uint64(hb[4:])),
			MonoS:  math.Float64frombits(binary.LittleEndian.Uint64(hb[12:])),
		},
	}

	payload := make([]byte, h.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return RecordHeader{}, nil, fmt.Errorf("read record payload: %w", err)
	}
	return h, payload, nil
}
