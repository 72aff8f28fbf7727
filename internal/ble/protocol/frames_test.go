package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Frame
	}{
		{"begin", "SCRIPT_BEGIN 120", Frame{Op: OpBegin, Length: 120, Slot: NoSlot}},
		{"begin with slot", "SCRIPT_BEGIN 120 4", Frame{Op: OpBegin, Length: 120, Slot: 4}},
		{"begin lower case", "script_begin 9\n", Frame{Op: OpBegin, Length: 9, Slot: NoSlot}},
		{"chunk", "SCRIPT_CHUNK move 1 2\n", Frame{Op: OpChunk, Data: []byte("move 1 2\n")}},
		{"chunk lower case", "script_chunk hello", Frame{Op: OpChunk, Data: []byte("hello")}},
		{"chunk mixed case", "Script_Chunk Arc 5", Frame{Op: OpChunk, Data: []byte("Arc 5")}},
		{"chunk keeps spaces", "SCRIPT_CHUNK   x ", Frame{Op: OpChunk, Data: []byte("  x ")}},
		{"empty chunk", "SCRIPT_CHUNK", Frame{Op: OpChunk, Data: []byte{}}},
		{"end", "SCRIPT_END", Frame{Op: OpEnd}},
		{"end trailing newline", "SCRIPT_END\r\n", Frame{Op: OpEnd}},
		{"abort", "SCRIPT_ABORT", Frame{Op: OpAbort}},
		{"reset alias", "SCRIPT_RESET", Frame{Op: OpAbort}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFrame([]byte(tt.in))
			if err != nil {
				t.Fatalf("ParseFrame(%q) error: %v", tt.in, err)
			}
			if got.Op != tt.want.Op || got.Length != tt.want.Length || got.Slot != tt.want.Slot {
				t.Errorf("ParseFrame(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			if !bytes.Equal(got.Data, tt.want.Data) {
				t.Errorf("ParseFrame(%q).Data = %q, want %q", tt.in, got.Data, tt.want.Data)
			}
		})
	}
}

func TestParseFrameErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "HELLO", "SCRIPT_BEGIN", "SCRIPT_BEGIN x", "SCRIPT_BEGIN 10 y", "SCRIPT_BEGIN 1 2 3"} {
		if _, err := ParseFrame([]byte(in)); err == nil {
			t.Errorf("ParseFrame(%q) = nil error, want error", in)
		}
	}
	if _, err := ParseFrame([]byte("HELLO")); !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("ParseFrame(HELLO) error = %v, want ErrUnknownFrame", err)
	}
}

func TestParseFrameCopiesChunk(t *testing.T) {
	buf := []byte("SCRIPT_CHUNK abc")
	f, err := ParseFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	buf[len(buf)-1] = 'z'
	if string(f.Data) != "abc" {
		t.Errorf("chunk data aliases the write buffer: %q", f.Data)
	}
}

func TestEncodeFramesRoundTrip(t *testing.T) {
	encoded := [][]byte{BeginFrame(300, 2), BeginFrame(300, NoSlot), ChunkFrame([]byte("wait 5\n")), EndFrame(), AbortFrame()}
	wantOps := []Op{OpBegin, OpBegin, OpChunk, OpEnd, OpAbort}
	for i, b := range encoded {
		f, err := ParseFrame(b)
		if err != nil {
			t.Fatalf("ParseFrame(%q): %v", b, err)
		}
		if f.Op != wantOps[i] {
			t.Errorf("frame %d op = %v, want %v", i, f.Op, wantOps[i])
		}
	}
	if got := string(BeginFrame(300, NoSlot)); got != "SCRIPT_BEGIN 300" {
		t.Errorf("BeginFrame without slot = %q", got)
	}
}
