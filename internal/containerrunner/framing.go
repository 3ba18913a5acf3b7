package containerrunner

import (
	"bytes"
	"fmt"
)

const (
	outputStartMarker = "---NANOCLAW_OUTPUT_START---"
	outputEndMarker   = "---NANOCLAW_OUTPUT_END---"
)

// ExtractFramedOutput returns the bytes between the LAST matching pair of
// start/end markers in stdout. The agent may emit diagnostic chatter on
// stdout before producing its real JSON payload (e.g. library warnings);
// only the final frame is authoritative.
func ExtractFramedOutput(stdout []byte) ([]byte, error) {
	start := bytes.LastIndex(stdout, []byte(outputStartMarker))
	if start < 0 {
		return nil, fmt.Errorf("container output missing start marker")
	}
	rest := stdout[start+len(outputStartMarker):]
	end := bytes.LastIndex(rest, []byte(outputEndMarker))
	if end < 0 {
		return nil, fmt.Errorf("container output missing end marker")
	}
	payload := bytes.TrimSpace(rest[:end])
	if len(payload) == 0 {
		return nil, fmt.Errorf("container output frame is empty")
	}
	return payload, nil
}

// WriteFramedOutput wraps payload in the marker pair, mirroring what the
// sandboxed agent binary writes to its own stdout.
func WriteFramedOutput(payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(outputStartMarker)
	buf.WriteByte('\n')
	buf.Write(payload)
	buf.WriteByte('\n')
	buf.WriteString(outputEndMarker)
	return buf.Bytes()
}
