package mention

import (
	"strings"

	"github.com/secmon-lab/mentionist/pkg/domain/model"
)

// Render turns segments into plain text: mentions become "@Label" and
// line break markers become newlines.
func Render(segments []model.Segment) string {
	var b strings.Builder
	for _, s := range segments {
		switch s.Kind {
		case model.SegmentMention:
			b.WriteString("@")
			b.WriteString(s.Label)
		case model.SegmentLineBreak:
			b.WriteString("\n")
		default:
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

// Reconstruct returns the source text of segments
func Reconstruct(segments []model.Segment) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s.Raw())
	}
	return b.String()
}
