package transport

import (
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/c360/runtimeworker/errors"
)

// Wire constants
const (
	HeaderLen = 24

	Magic   uint32 = 0x52574B31 // "RWK1"
	Version uint16 = 1

	// DefaultMaxPayload bounds a single frame payload.
	DefaultMaxPayload = 16 << 20
)

// FrameType identifies the frame purpose
type FrameType uint8

// Frame types
const (
	TypeRequest  FrameType = 1
	TypeResponse FrameType = 2
	TypeShutdown FrameType = 3
)

func (t FrameType) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeResponse:
		return "response"
	case TypeShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Frame flags
const (
	FlagError uint8 = 0x01
)

// Header is the fixed frame header. Layout, big-endian:
//
//	0:4   magic
//	4:6   version
//	6     type
//	7     flags
//	8:16  id
//	16:24 payload length
type Header struct {
	Magic      uint32
	Version    uint16
	Type       FrameType
	Flags      uint8
	ID         uint64
	PayloadLen uint64
}

// Frame is one complete wire message
type Frame struct {
	Type    FrameType
	Flags   uint8
	ID      uint64
	Payload []byte
}

// IsError reports whether the error flag is set
func (f Frame) IsError() bool {
	return f.Flags&FlagError != 0
}

// EncodeHeader writes h into a new HeaderLen buffer
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	buf[6] = byte(h.Type)
	buf[7] = h.Flags
	binary.BigEndian.PutUint64(buf[8:16], h.ID)
	binary.BigEndian.PutUint64(buf[16:24], h.PayloadLen)
	return buf
}

// DecodeHeader parses and validates a fixed header
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, errors.WrapInvalid(
			fmt.Errorf("%w: header length %d", errors.ErrInvalidData, len(b)),
			"transport", "DecodeHeader", "header size check")
	}
	h := Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		Type:       FrameType(b[6]),
		Flags:      b[7],
		ID:         binary.BigEndian.Uint64(b[8:16]),
		PayloadLen: binary.BigEndian.Uint64(b[16:24]),
	}
	if h.Magic != Magic {
		return Header{}, errors.WrapInvalid(
			fmt.Errorf("%w: bad magic 0x%08x", errors.ErrInvalidData, h.Magic),
			"transport", "DecodeHeader", "magic check")
	}
	if h.Version != Version {
		return Header{}, errors.WrapInvalid(
			fmt.Errorf("%w: unsupported version %d", errors.ErrInvalidData, h.Version),
			"transport", "DecodeHeader", "version check")
	}
	return h, nil
}

// ReadFrame reads one frame. A clean EOF before any header byte is returned
// as io.EOF so callers can tell an orderly close from a torn frame.
func ReadFrame(r io.Reader, maxPayload uint64) (Frame, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if stderrors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, errors.WrapInvalid(
				fmt.Errorf("%w: short header", errors.ErrInvalidData),
				"transport", "ReadFrame", "read header")
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.PayloadLen > maxPayload {
		return Frame{}, errors.WrapInvalid(
			fmt.Errorf("%w: %d > %d", errors.ErrFrameTooLarge, h.PayloadLen, maxPayload),
			"transport", "ReadFrame", "payload size check")
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if stderrors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return Frame{}, err
		}
	}

	return Frame{Type: h.Type, Flags: h.Flags, ID: h.ID, Payload: payload}, nil
}

// WriteFrame writes header and payload in a single Write call
func WriteFrame(w io.Writer, f Frame, maxPayload uint64) error {
	payloadLen := uint64(len(f.Payload))
	if payloadLen > maxPayload {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %d > %d", errors.ErrFrameTooLarge, payloadLen, maxPayload),
			"transport", "WriteFrame", "payload size check")
	}

	buf := EncodeHeader(Header{
		Magic:      Magic,
		Version:    Version,
		Type:       f.Type,
		Flags:      f.Flags,
		ID:         f.ID,
		PayloadLen: payloadLen,
	})
	buf = append(buf, f.Payload...)

	_, err := w.Write(buf)
	return err
}
