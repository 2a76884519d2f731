package domain

// FrameKind enumerates the decoded units of a streamed response.
type FrameKind int

const (
	// FrameContent carries a text increment for the open assistant message.
	FrameContent FrameKind = iota + 1
	// FrameIdentity carries the conversation id negotiated for this exchange.
	FrameIdentity
	// FrameDone is the terminal sentinel.
	FrameDone
	// FrameMalformed is a data line whose payload could not be interpreted.
	FrameMalformed
)

func (k FrameKind) String() string {
	switch k {
	case FrameContent:
		return "content"
	case FrameIdentity:
		return "identity"
	case FrameDone:
		return "done"
	case FrameMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Frame is one decoded unit of the stream.
type Frame struct {
	Kind           FrameKind
	Text           string
	ConversationID string
	Raw            string
}
