// Package channels holds chat platform clients: the concrete, out-of-scope
// collaborator named in section 1 of the specification. A client satisfies
// supervisor.OutboundChat for replies/typing and drives supervisor.Intake
// for inbound events. Mention detection, reply-to-bot detection, and
// outbound chunking all happen here, upstream of intake.
package channels

import "strings"

// maxChunkLen is the outbound chunk ceiling. Telegram's own limit is 4096
// bytes per message; nanoclaw chunks at a tighter, platform-agnostic 2000
// so the same client code can serve a stricter channel later.
const maxChunkLen = 2000

// ChunkMessage splits text into pieces no longer than maxChunkLen, preferring
// to break at the last newline within the limit, then the last space, and
// falling back to a hard cut only when neither is available.
func ChunkMessage(text string) []string {
	if len(text) <= maxChunkLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > maxChunkLen {
		window := text[:maxChunkLen]
		cut := strings.LastIndexByte(window, '\n')
		if cut <= 0 {
			cut = strings.LastIndexByte(window, ' ')
		}
		if cut <= 0 {
			cut = maxChunkLen
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
		text = strings.TrimPrefix(text, " ")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
