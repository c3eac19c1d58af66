package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// HeaderSize is the fixed length of a frame header.
const HeaderSize = 16

// FrameVersion is the only header version accepted.
const FrameVersion = 1

// DefaultMaxFrame bounds payloads read by ReadFrame when no limit is given.
const DefaultMaxFrame = 16 << 20

var frameMagic = [2]byte{'Z', 'T'}

var (
	ErrBadMagic      = errors.New("bad frame magic")
	ErrBadVersion    = errors.New("unsupported frame version")
	ErrChecksum      = errors.New("frame checksum mismatch")
	ErrFrameTooLarge = errors.New("frame too large")
)

// MsgType identifies the payload of a frame.
type MsgType uint8

const (
	MsgRegister MsgType = iota + 1
	MsgAgentData
	MsgTraceData
	MsgAck
	MsgError
)

func (t MsgType) String() string {
	switch t {
	case MsgRegister:
		return "register"
	case MsgAgentData:
		return "agent_data"
	case MsgTraceData:
		return "trace_data"
	case MsgAck:
		return "ack"
	case MsgError:
		return "error"
	default:
		return fmt.Sprintf("msg(%d)", uint8(t))
	}
}

// Header layout: magic(2) version(1) type(1) length(4) checksum(8), big endian.
type Header struct {
	Type     MsgType
	Length   uint32
	Checksum uint64
}

// Checksum returns the first 8 bytes of the blake3 digest of payload.
func Checksum(payload []byte) uint64 {
	sum := blake3.Sum256(payload)
	return binary.BigEndian.Uint64(sum[:8])
}

// WriteFrame writes one framed message.
func WriteFrame(w io.Writer, t MsgType, payload []byte) error {
	if uint64(len(payload)) > 1<<32-1 {
		return ErrFrameTooLarge
	}
	var hdr [HeaderSize]byte
	hdr[0], hdr[1] = frameMagic[0], frameMagic[1]
	hdr[2] = FrameVersion
	hdr[3] = byte(t)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	binary.BigEndian.PutUint64(hdr[8:16], Checksum(payload))

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// ReadHeader reads and validates a frame header.
func ReadHeader(r io.Reader) (Header, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Header{}, err
	}
	if hdr[0] != frameMagic[0] || hdr[1] != frameMagic[1] {
		return Header{}, ErrBadMagic
	}
	if hdr[2] != FrameVersion {
		return Header{}, fmt.Errorf("%w: %d", ErrBadVersion, hdr[2])
	}
	return Header{
		Type:     MsgType(hdr[3]),
		Length:   binary.BigEndian.Uint32(hdr[4:8]),
		Checksum: binary.BigEndian.Uint64(hdr[8:16]),
	}, nil
}

// ReadFrame reads one framed message and verifies its checksum. Payloads
// longer than maxLen are rejected before being read; maxLen <= 0 selects
// DefaultMaxFrame.
func ReadFrame(r io.Reader, maxLen int) (MsgType, []byte, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxFrame
	}
	hdr, err := ReadHeader(r)
	if err != nil {
		return 0, nil, err
	}
	if int64(hdr.Length) > int64(maxLen) {
		return hdr.Type, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, hdr.Length)
	}
	payload := make([]byte, hdr.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return hdr.Type, nil, fmt.Errorf("read frame payload: %w", err)
	}
	if Checksum(payload) != hdr.Checksum {
		return hdr.Type, nil, ErrChecksum
	}
	return hdr.Type, payload, nil
}
