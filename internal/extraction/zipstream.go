package extraction

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/pspdemo/isoload/internal/domain"
)

const (
	localHeaderSig   = 0x04034b50
	centralHeaderSig = 0x02014b50
	endOfCentralSig  = 0x06054b50
	zip64EndSig      = 0x06064b50
	descriptorSig    = 0x08074b50

	// fixed part of a local file header, signature excluded
	localHeaderLen = 26
	zip64ExtraID   = 0x0001

	methodStore   = 0
	methodDeflate = 8

	flagEncrypted  = 0x1
	flagDescriptor = 0x8

	streamBufferSize = 64 * 1024
)

// ErrMalformed is returned when the container cannot be parsed.
var ErrMalformed = errors.New("malformed zip stream")

type entryHeader struct {
	Name             string
	Method           uint16
	Flags            uint16
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64

	zip64 bool
}

func (h *entryHeader) IsDir() bool { return strings.HasSuffix(h.Name, "/") }

// deferredSizes reports whether CRC and sizes follow the data in a descriptor.
func (h *entryHeader) deferredSizes() bool { return h.Flags&flagDescriptor != 0 }

// countingReader tracks how many container bytes were consumed. It is an
// io.ByteReader so the flate decoder never reads past the end of an entry.
type countingReader struct {
	br *bufio.Reader
	n  int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.br.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.br.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

func (c *countingReader) peek(n int) ([]byte, error) { return c.br.Peek(n) }

func (c *countingReader) discard(n int) {
	d, _ := c.br.Discard(n)
	c.n += int64(d)
}

// entryReader walks a zip container front to back using local file headers
// only, so it works on non-seekable streams such as an HTTP body. Read
// returns the decompressed bytes of the entry last returned by Next.
type entryReader struct {
	src *countingReader

	cur   *entryHeader
	body  io.Reader
	inflt io.ReadCloser
	crc   hash.Hash32
	size  uint64
	start int64
	done  bool
	end   bool
}

func newEntryReader(r io.Reader) *entryReader {
	return &entryReader{src: &countingReader{br: bufio.NewReaderSize(r, streamBufferSize)}}
}

// Next advances to the next entry, draining whatever is left of the current
// one. It returns io.EOF once the central directory (or a clean end of stream)
// is reached.
func (z *entryReader) Next() (*entryHeader, error) {
	if z.end {
		return nil, io.EOF
	}

	if z.cur != nil && !z.done {
		if _, err := io.Copy(io.Discard, z); err != nil {
			return nil, err
		}
	}
	z.cur = nil

	var sig [4]byte
	if _, err := io.ReadFull(z.src, sig[:]); err != nil {
		if err == io.EOF {
			z.end = true
			return nil, io.EOF
		}
		return nil, err
	}

	switch binary.LittleEndian.Uint32(sig[:]) {
	case localHeaderSig:
	case centralHeaderSig, endOfCentralSig, zip64EndSig:
		z.end = true
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("%w: unexpected signature %#08x", ErrMalformed, binary.LittleEndian.Uint32(sig[:]))
	}

	var buf [localHeaderLen]byte
	if _, err := io.ReadFull(z.src, buf[:]); err != nil {
		return nil, noEOF(err)
	}

	h := &entryHeader{
		Flags:            binary.LittleEndian.Uint16(buf[2:]),
		Method:           binary.LittleEndian.Uint16(buf[4:]),
		CRC32:            binary.LittleEndian.Uint32(buf[10:]),
		CompressedSize:   uint64(binary.LittleEndian.Uint32(buf[14:])),
		UncompressedSize: uint64(binary.LittleEndian.Uint32(buf[18:])),
	}

	nameLen := int(binary.LittleEndian.Uint16(buf[22:]))
	extraLen := int(binary.LittleEndian.Uint16(buf[24:]))
	meta := make([]byte, nameLen+extraLen)
	if _, err := io.ReadFull(z.src, meta); err != nil {
		return nil, noEOF(err)
	}
	h.Name = string(meta[:nameLen])
	parseZip64Extra(h, meta[nameLen:])

	if h.Flags&flagEncrypted != 0 {
		return nil, fmt.Errorf("%w: %s is encrypted", domain.ErrUnsupportedEntry, h.Name)
	}

	switch h.Method {
	case methodStore:
		if h.deferredSizes() {
			return nil, fmt.Errorf("%w: stored entry %s has no size in its local header", domain.ErrUnsupportedEntry, h.Name)
		}
		z.body = io.LimitReader(z.src, int64(h.CompressedSize))
		z.inflt = nil
	case methodDeflate:
		z.inflt = flate.NewReader(z.src)
		z.body = z.inflt
	default:
		return nil, fmt.Errorf("%w: %s uses compression method %d", domain.ErrUnsupportedEntry, h.Name, h.Method)
	}

	z.cur = h
	z.crc = crc32.NewIEEE()
	z.size = 0
	z.start = z.src.n
	z.done = false

	return h, nil
}

func (z *entryReader) Read(p []byte) (int, error) {
	if z.cur == nil || z.done {
		return 0, io.EOF
	}

	n, err := z.body.Read(p)
	if n > 0 {
		z.crc.Write(p[:n])
		z.size += uint64(n)
	}

	if err == io.EOF {
		if ferr := z.finish(); ferr != nil {
			return n, ferr
		}
		return n, io.EOF
	}

	return n, err
}

// finish validates the entry once its body is exhausted.
func (z *entryReader) finish() error {
	z.done = true
	if z.inflt != nil {
		z.inflt.Close()
		z.inflt = nil
	}

	h := z.cur
	crc, size := h.CRC32, h.UncompressedSize
	wide := true

	if h.deferredSizes() {
		var err error
		crc, size, wide, err = z.readDescriptor()
		if err != nil {
			return err
		}
	}

	got := z.size
	if !wide {
		got = uint64(uint32(got))
	}

	if got != size {
		if h.Method == methodStore && z.size < size {
			// LimitReader reports EOF even when the stream itself was cut short
			return io.ErrUnexpectedEOF
		}
		return fmt.Errorf("%w: %s is %d bytes, header says %d", ErrMalformed, h.Name, z.size, size)
	}

	if z.crc.Sum32() != crc {
		return fmt.Errorf("%w: %s checksum mismatch", ErrMalformed, h.Name)
	}

	return nil
}

// readDescriptor consumes the data descriptor after a deflated entry. The
// signature is optional and sizes may be 4 or 8 bytes wide; the 8-byte form is
// picked only when it agrees with what was actually read.
func (z *entryReader) readDescriptor() (crc uint32, size uint64, wide bool, err error) {
	consumed := uint64(z.src.n - z.start)

	b, err := z.src.peek(4)
	if err != nil {
		return 0, 0, false, noEOF(err)
	}
	if binary.LittleEndian.Uint32(b) == descriptorSig {
		z.src.discard(4)
	}

	b, err = z.src.peek(20)
	if len(b) < 12 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return 0, 0, false, noEOF(err)
	}

	crc = binary.LittleEndian.Uint32(b)
	if len(b) >= 20 {
		c64 := binary.LittleEndian.Uint64(b[4:])
		u64 := binary.LittleEndian.Uint64(b[12:])
		if c64 == consumed && u64 == z.size {
			z.src.discard(20)
			return crc, u64, true, nil
		}
	}

	size = uint64(binary.LittleEndian.Uint32(b[8:]))
	z.src.discard(12)
	return crc, size, false, nil
}

func parseZip64Extra(h *entryHeader, extra []byte) {
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra)
		n := int(binary.LittleEndian.Uint16(extra[2:]))
		extra = extra[4:]
		if n > len(extra) {
			return
		}
		field := extra[:n]
		extra = extra[n:]

		if id != zip64ExtraID {
			continue
		}

		h.zip64 = true
		if h.UncompressedSize == 0xFFFFFFFF && len(field) >= 8 {
			h.UncompressedSize = binary.LittleEndian.Uint64(field)
			field = field[8:]
		}
		if h.CompressedSize == 0xFFFFFFFF && len(field) >= 8 {
			h.CompressedSize = binary.LittleEndian.Uint64(field)
		}
	}
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
