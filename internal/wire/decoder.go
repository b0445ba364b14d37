package wire

// Decoder reassembles frames from a TCP byte stream. Unknown types, bad
// versions, and zero-length payloads on types that require one cost a
// single dropped byte, so the stream resynchronizes on the next intact
// frame. A hard buffer cap protects against peers that flood junk.
//
// The implementation keeps a read cursor and compacts occasionally instead
// of shifting the buffer on every frame.
type Decoder struct {
	buf     []byte
	readPos int

	// BadBytes counts bytes dropped during resync.
	BadBytes uint64
}

const (
	// MaxBufferBytes caps the reassembly buffer.
	MaxBufferBytes = 64 * 1024

	compactThreshold = 4096
)

// Push appends received bytes to the reassembly buffer. If the cap would be
// exceeded the buffer is reset first, keeping only the tail that fits.
func (d *Decoder) Push(p []byte) {
	if len(p) == 0 {
		return
	}
	if d.available()+len(p) > MaxBufferBytes {
		d.Reset()
		if len(p) > MaxBufferBytes {
			p = p[len(p)-MaxBufferBytes:]
		}
	}
	d.buf = append(d.buf, p...)
}

// Next extracts the next complete frame. ok is false when no complete frame
// is buffered.
func (d *Decoder) Next() (msgType byte, payload []byte, ok bool) {
	for {
		if d.available() < HeaderSize {
			return 0, nil, false
		}

		h := Header{
			Type: d.buf[d.readPos],
			Ver:  d.buf[d.readPos+1],
			Len:  d.buf[d.readPos+2],
		}

		if h.Ver != Version || !KnownType(h.Type) {
			d.dropByte()
			continue
		}
		if h.Len == 0 && requiresPayload(h.Type) {
			d.dropByte()
			continue
		}

		total := HeaderSize + int(h.Len)
		if d.available() < total {
			return 0, nil, false
		}

		payload = make([]byte, h.Len)
		copy(payload, d.buf[d.readPos+HeaderSize:d.readPos+total])
		d.readPos += total
		d.maybeCompact()
		return h.Type, payload, true
	}
}

// Reset discards all buffered bytes.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.readPos = 0
}

func (d *Decoder) available() int {
	return len(d.buf) - d.readPos
}

func (d *Decoder) dropByte() {
	d.readPos++
	d.BadBytes++
	d.maybeCompact()
}

func (d *Decoder) maybeCompact() {
	if d.readPos == len(d.buf) {
		d.Reset()
		return
	}
	if d.readPos >= compactThreshold && d.readPos > len(d.buf)/2 {
		d.buf = append(d.buf[:0], d.buf[d.readPos:]...)
		d.readPos = 0
	}
}
