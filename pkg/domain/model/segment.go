package model

// SegmentKind identifies the variant of a Segment
type SegmentKind string

const (
	SegmentLiteral   SegmentKind = "literal"
	SegmentLineBreak SegmentKind = "line_break"
	SegmentMention   SegmentKind = "mention"
)

// Segment is one typed run of an annotated message.
// Literal carries Text; Mention carries Token (without "<@" and ">") and Label.
type Segment struct {
	Kind  SegmentKind `json:"kind"`
	Text  string      `json:"text,omitempty"`
	Token string      `json:"token,omitempty"`
	Label string      `json:"label,omitempty"`
}

// NewLiteral creates a literal segment
func NewLiteral(text string) Segment {
	return Segment{Kind: SegmentLiteral, Text: text}
}

// NewLineBreak creates a line break marker
func NewLineBreak() Segment {
	return Segment{Kind: SegmentLineBreak}
}

// NewMention creates a mention segment
func NewMention(token, label string) Segment {
	return Segment{Kind: SegmentMention, Token: token, Label: label}
}

// Raw returns the source text the segment was produced from
func (s Segment) Raw() string {
	switch s.Kind {
	case SegmentLineBreak:
		return "\n"
	case SegmentMention:
		return "<@" + s.Token + ">"
	default:
		return s.Text
	}
}
