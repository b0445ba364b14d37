package binlog

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover.gateway/internal/fsutil"
	"github.com/banshee-data/rover.gateway/internal/robot"
)

func TestFileHeaderLayout(t *testing.T) {
	b := encodeFileHeader()
	require.Len(t, b, FileHeaderSize)
	assert.Equal(t, []byte{0x42, 0x4C, 0x57, 0x47}, b[:4]) // "BLWG"
	assert.Equal(t, []byte{0x01, 0x00}, b[4:6])
	assert.Equal(t, []byte{0x00, 0x00}, b[6:8])

	require.NoError(t, ReadFileHeader(bytes.NewReader(b)))

	bad := append([]byte(nil), b...)
	bad[0] ^= 1
	assert.Error(t, ReadFileHeader(bytes.NewReader(bad)))
}

func TestRecordRoundTrip(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w, err := NewWriter(fs, "logs/gateway.bin", 0, 0, "20260805_120000")
	require.NoError(t, err)

	sample := robot.StateSample{
		TS:  robot.Timestamps{EpochS: 100.5, MonoS: 1.25},
		Seq: 3,
	}
	sample.States.BatteryVoltage = 11.1
	require.NoError(t, w.WriteRecord(RecordState, sample.TS, sample.Encode()))

	ev := robot.EventSample{
		TS:    robot.Timestamps{EpochS: 101, MonoS: 1.5},
		Event: robot.EventCmd{Type: robot.EventBeep, Seq: 1, Data0: 50},
	}
	require.NoError(t, w.WriteRecord(RecordEvent, ev.TS, ev.Encode()))
	require.NoError(t, w.Close())

	data, err := fs.ReadFile(w.Path())
	require.NoError(t, err)

	r := bytes.NewReader(data)
	require.NoError(t, ReadFileHeader(r))

	h, payload, err := ReadRecord(r)
	require.NoError(t, err)
	assert.Equal(t, RecordState, h.Type)
	assert.Equal(t, ExpectedPayloadSize(RecordState), int(h.PayloadLen))
	got, err := robot.DecodeStateSample(payload)
	require.NoError(t, err)
	assert.Equal(t, sample, got)

	h, payload, err = ReadRecord(r)
	require.NoError(t, err)
	assert.Equal(t, RecordEvent, h.Type)
	gotEv, err := robot.DecodeEventSample(payload)
	require.NoError(t, err)
	assert.Equal(t, ev, gotEv)

	_, _, err = ReadRecord(r)
	assert.Equal(t, io.EOF, err)
}

func TestRotationBySize(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()

	// Room for the file header plus two motor command records.
	recordSize := uint64(RecordHeaderSize + robot.MotorCommandsSampleSize)
	maxBytes := uint64(FileHeaderSize) + 2*recordSize

	w, err := NewWriter(fs, "logs/gateway.bin", maxBytes, 0, "tag")
	require.NoError(t, err)

	s := robot.MotorCommandsSample{}
	for i := 0; i < 5; i++ {
		require.NoError(t, w.WriteRecord(RecordCmd, s.TS, s.Encode()))
	}
	require.NoError(t, w.Close())

	// Five records at two per segment: three segments.
	assert.Equal(t, 3, w.Segments())

	names, err := fs.List("logs")
	require.NoError(t, err)
	assert.Equal(t, []string{"gateway_tag_0.bin", "gateway_tag_1.bin", "gateway_tag_2.bin"}, names)

	// No segment exceeds the budget.
	for _, n := range names {
		data, err := fs.ReadFile("logs/" + n)
		require.NoError(t, err)
		assert.LessOrEqual(t, uint64(len(data)), maxBytes)
	}
}

func TestRetentionKeepsNewest(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()

	recordSize := uint64(RecordHeaderSize + robot.MotorCommandsSampleSize)
	maxBytes := uint64(FileHeaderSize) + recordSize

	w, err := NewWriter(fs, "logs/gateway.bin", maxBytes, 3, "tag")
	require.NoError(t, err)

	s := robot.MotorCommandsSample{}
	for i := 0; i < 6; i++ {
		require.NoError(t, w.WriteRecord(RecordCmd, s.TS, s.Encode()))
	}
	require.NoError(t, w.Close())

	names, err := fs.List("logs")
	require.NoError(t, err)
	assert.Equal(t, []string{"gateway_tag_3.bin", "gateway_tag_4.bin", "gateway_tag_5.bin"}, names)
}

func TestRetentionIgnoresOtherSessions(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()

	// A segment from an earlier run must survive retention of this run.
	f, err := fs.Create("logs/gateway_old_0.bin")
	require.NoError(t, err)
	f.Close()

	recordSize := uint64(RecordHeaderSize + robot.MotorCommandsSampleSize)
	w, err := NewWriter(fs, "logs/gateway.bin", uint64(FileHeaderSize)+recordSize, 1, "new")
	require.NoError(t, err)

	s := robot.MotorCommandsSample{}
	for i := 0; i < 3; i++ {
		require.NoError(t, w.WriteRecord(RecordCmd, s.TS, s.Encode()))
	}
	require.NoError(t, w.Close())

	names, err := fs.List("logs")
	require.NoError(t, err)
	assert.Contains(t, names, "gateway_old_0.bin")
	assert.Contains(t, names, "gateway_new_2.bin")
	assert.Len(t, names, 2)
}

func TestWriterDefaultExtension(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w, err := NewWriter(fs, "logs/gateway", 0, 0, "tag")
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, "logs/gateway_tag_0.bin", w.Path())
}

func TestWriteAfterClose(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w, err := NewWriter(fs, "logs/gateway.bin", 0, 0, "tag")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	s := robot.MotorCommandsSample{}
	assert.Error(t, w.WriteRecord(RecordCmd, s.TS, s.Encode()))
}
