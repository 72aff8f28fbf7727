package protocol

import "unicode/utf8"

// DefaultMTU is the ATT MTU most phones negotiate with the device.
const DefaultMTU = 185

// attOverhead is the ATT write header (opcode + handle).
const attOverhead = 3

// MaxChunkPayload returns how many script bytes fit in one SCRIPT_CHUNK
// write at the given MTU.
func MaxChunkPayload(mtu int) int {
	n := mtu - attOverhead - len(chunkPrefix)
	if n < 1 {
		return 1
	}
	return n
}

// ChunkScript splits script into pieces of at most maxBytes. It prefers
// splitting after a newline so each chunk carries whole SandScript lines,
// and never splits in the middle of a UTF-8 character. Returns nil for an
// empty script or a non-positive maxBytes.
func ChunkScript(script []byte, maxBytes int) [][]byte {
	if len(script) == 0 || maxBytes <= 0 {
		return nil
	}
	if len(script) <= maxBytes {
		return [][]byte{script}
	}

	var chunks [][]byte
	for len(script) > 0 {
		if len(script) <= maxBytes {
			chunks = append(chunks, script)
			break
		}

		// Walk back from maxBytes to the start of a rune.
		split := maxBytes
		for split > 0 && !utf8.RuneStart(script[split]) {
			split--
		}

		// Prefer the last line break before split.
		bestBreak := -1
		for i := split; i > 0; i-- {
			if script[i-1] == '\n' {
				bestBreak = i
				break
			}
		}

		switch {
		case bestBreak > 0:
			chunks = append(chunks, script[:bestBreak])
			script = script[bestBreak:]
		case split > 0:
			chunks = append(chunks, script[:split])
			script = script[split:]
		default:
			// maxBytes is smaller than the leading rune; emit it whole
			// so we make progress.
			_, size := utf8.DecodeRune(script)
			chunks = append(chunks, script[:size])
			script = script[size:]
		}
	}
	return chunks
}
