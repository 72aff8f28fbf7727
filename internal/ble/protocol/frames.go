// Package protocol implements the ASCII encodings used on the Sand Garden
// GATT characteristics: scalar values, LED colors, and the SCRIPT_* frames
// that carry a chunked SandScript upload.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// NoSlot is the slot of a SCRIPT_BEGIN frame that does not name one.
const NoSlot = -1

const (
	beginToken  = "SCRIPT_BEGIN"
	chunkToken  = "SCRIPT_CHUNK"
	chunkPrefix = chunkToken + " "
	endToken    = "SCRIPT_END"
	abortToken  = "SCRIPT_ABORT"
	resetToken  = "SCRIPT_RESET"
)

// ErrUnknownFrame is returned for a script write that is not a SCRIPT_* frame.
var ErrUnknownFrame = errors.New("protocol: unknown script frame")

// Op is the kind of a script frame.
type Op int

const (
	OpBegin Op = iota + 1
	OpChunk
	OpEnd
	OpAbort
)

func (o Op) String() string {
	switch o {
	case OpBegin:
		return "BEGIN"
	case OpChunk:
		return "CHUNK"
	case OpEnd:
		return "END"
	case OpAbort:
		return "ABORT"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Frame is one decoded write to the script characteristic.
type Frame struct {
	Op     Op
	Length int    // OpBegin
	Slot   int    // OpBegin, NoSlot if absent
	Data   []byte // OpChunk
}

// ParseFrame decodes a script characteristic write:
//
//	SCRIPT_BEGIN <length> [slot]
//	SCRIPT_CHUNK <raw bytes>
//	SCRIPT_END
//	SCRIPT_ABORT
//
// Chunk data is taken verbatim after the single separating space.
func ParseFrame(b []byte) (Frame, error) {
	if len(b) >= len(chunkPrefix) && bytes.EqualFold(b[:len(chunkPrefix)], []byte(chunkPrefix)) {
		data := make([]byte, len(b)-len(chunkPrefix))
		copy(data, b[len(chunkPrefix):])
		return Frame{Op: OpChunk, Data: data}, nil
	}

	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return Frame{}, ErrUnknownFrame
	}

	switch strings.ToUpper(fields[0]) {
	case chunkToken:
		if len(fields) == 1 {
			return Frame{Op: OpChunk, Data: []byte{}}, nil
		}
	case beginToken:
		return parseBegin(fields[1:])
	case endToken:
		return Frame{Op: OpEnd}, nil
	case abortToken, resetToken:
		return Frame{Op: OpAbort}, nil
	}
	return Frame{}, fmt.Errorf("%w: %q", ErrUnknownFrame, truncate(fields[0], 24))
}

func parseBegin(args []string) (Frame, error) {
	if len(args) == 0 || len(args) > 2 {
		return Frame{}, fmt.Errorf("protocol: %s wants <length> [slot], got %d args", beginToken, len(args))
	}
	length, err := strconv.Atoi(args[0])
	if err != nil {
		return Frame{}, fmt.Errorf("protocol: %s length: %w", beginToken, err)
	}
	slot := NoSlot
	if len(args) == 2 {
		slot, err = strconv.Atoi(args[1])
		if err != nil {
			return Frame{}, fmt.Errorf("protocol: %s slot: %w", beginToken, err)
		}
	}
	return Frame{Op: OpBegin, Length: length, Slot: slot}, nil
}

// BeginFrame encodes SCRIPT_BEGIN. A negative slot is omitted.
func BeginFrame(length, slot int) []byte {
	if slot < 0 {
		return []byte(fmt.Sprintf("%s %d", beginToken, length))
	}
	return []byte(fmt.Sprintf("%s %d %d", beginToken, length, slot))
}

// ChunkFrame encodes SCRIPT_CHUNK followed by p.
func ChunkFrame(p []byte) []byte {
	buf := make([]byte, 0, len(chunkPrefix)+len(p))
	buf = append(buf, chunkPrefix...)
	return append(buf, p...)
}

// EndFrame encodes SCRIPT_END.
func EndFrame() []byte { return []byte(endToken) }

// AbortFrame encodes SCRIPT_ABORT.
func AbortFrame() []byte { return []byte(abortToken) }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
