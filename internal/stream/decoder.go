// Package stream decodes the line-framed response body of an assistant
// exchange into typed frames.
//
// The wire format is a sequence of "data: <payload>\n\n" units. A payload is
// either a JSON object carrying a content increment, a JSON object carrying
// the conversation identity, or the literal sentinel [DONE]. Decoding is a
// pure function of (state, chunk) so a line boundary may fall anywhere inside
// a chunk without dropping or duplicating bytes.
package stream

import (
	"bytes"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/domain"
)

const (
	dataPrefix = "data:"

	// Sentinel is the payload that terminates a stream.
	Sentinel = "[DONE]"
)

// State is the carry-over between Decode calls: the trailing incomplete line
// and whether the sentinel has been seen.
type State struct {
	carry []byte
	done  bool
}

// Done reports whether the sentinel has been decoded.
func (s State) Done() bool { return s.done }

// Buffered returns the number of bytes held back waiting for a newline.
func (s State) Buffered() int { return len(s.carry) }

// Decode appends chunk to the carried-over bytes, emits a frame for every
// complete data line and returns the new state. Once the sentinel is decoded
// the rest of the chunk is discarded and every later call is a no-op.
func Decode(state State, chunk []byte) ([]domain.Frame, State) {
	if state.done {
		return nil, state
	}

	buf := make([]byte, 0, len(state.carry)+len(chunk))
	buf = append(buf, state.carry...)
	buf = append(buf, chunk...)

	var frames []domain.Frame
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(buf[:i], []byte("\r"))
		buf = buf[i+1:]

		payload, ok := dataPayload(line)
		if !ok {
			continue
		}
		if payload == Sentinel {
			frames = append(frames, domain.Frame{Kind: domain.FrameDone})
			return frames, State{done: true}
		}
		if f, ok := interpret(payload); ok {
			frames = append(frames, f)
		}
	}
	return frames, State{carry: buf}
}

// dataPayload strips the framing prefix. Comments, event names, ids and the
// blank separator lines are not data lines.
func dataPayload(line []byte) (string, bool) {
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return "", false
	}
	payload := strings.TrimSpace(string(line[len(dataPrefix):]))
	if payload == "" {
		return "", false
	}
	return payload, true
}

func interpret(payload string) (domain.Frame, bool) {
	if !gjson.Valid(payload) {
		return domain.Frame{Kind: domain.FrameMalformed, Raw: payload}, true
	}
	res := gjson.Parse(payload)

	for _, path := range []string{"content", "choices.0.delta.content"} {
		if c := res.Get(path); c.Type == gjson.String {
			if c.Str == "" {
				return domain.Frame{}, false
			}
			return domain.Frame{Kind: domain.FrameContent, Text: c.Str}, true
		}
	}
	if id := res.Get("conversationId"); id.Type == gjson.String && id.Str != "" {
		return domain.Frame{Kind: domain.FrameIdentity, ConversationID: id.Str}, true
	}
	// Role-only deltas, keep-alives and finish markers carry nothing to apply.
	return domain.Frame{}, false
}

// Decoder is the stateful wrapper around Decode for callers that feed chunks
// as they arrive.
type Decoder struct {
	state State
}

// NewDecoder returns a Decoder with an empty carry-over.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed decodes one chunk.
func (d *Decoder) Feed(chunk []byte) []domain.Frame {
	frames, next := Decode(d.state, chunk)
	d.state = next
	return frames
}

// Done reports whether the sentinel has been decoded.
func (d *Decoder) Done() bool { return d.state.Done() }

// Buffered returns the number of bytes waiting for a newline.
func (d *Decoder) Buffered() int { return d.state.Buffered() }
