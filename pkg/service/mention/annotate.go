package mention

import (
	"regexp"
	"strings"

	"github.com/secmon-lab/mentionist/pkg/domain/model"
)

// mentionPattern matches "<@TOKEN>" where TOKEN is an uppercase-alphanumeric run
var mentionPattern = regexp.MustCompile(`<@([A-Z0-9]+)>`)

// Reader is the read-only view of a user cache used for label resolution
type Reader interface {
	Cached(key string) *model.User
}

// Tokens returns the distinct mention tokens of text in order of first appearance
func Tokens(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]struct{}, len(matches))
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		tokens = append(tokens, m[1])
	}
	return tokens
}

// Annotate splits text into literal, line break and mention segments, left to right.
// Labels are read from reader and never fetched; an unknown token is labeled
// with the token itself. Concatenating Raw() of the result yields text.
func Annotate(text string, reader Reader) []model.Segment {
	segments := []model.Segment{}
	cursor := 0

	for _, loc := range mentionPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		token := text[loc[2]:loc[3]]

		if start > cursor {
			segments = appendLiteral(segments, text[cursor:start])
		}
		segments = append(segments, model.NewMention(token, label(reader, token)))
		cursor = end
	}

	if cursor < len(text) {
		segments = appendLiteral(segments, text[cursor:])
	}

	return segments
}

// appendLiteral emits one Literal per line of text with LineBreak markers between
// lines. Empty lines produce no Literal.
func appendLiteral(segments []model.Segment, text string) []model.Segment {
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			segments = append(segments, model.NewLineBreak())
		}
		if line != "" {
			segments = append(segments, model.NewLiteral(line))
		}
	}
	return segments
}

func label(reader Reader, token string) string {
	if reader == nil {
		return token
	}
	return reader.Cached(token).Label(token)
}
