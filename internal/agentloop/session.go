package agentloop

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// loadSession reads the prior turn history for sessionID out of sessionsDir.
// An empty sessionID or a missing file both mean "no prior history" rather
// than an error — every conversation starts somewhere.
func loadSession(sessionsDir, sessionID string) ([]*genai.Content, error) {
	if sessionID == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(sessionsDir, sessionID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	var contents []*genai.Content
	if err := json.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return contents, nil
}

// saveSession persists contents under sessionID, minting a new id when none
// was supplied, and returns whichever id the caller should report back.
func saveSession(sessionsDir, sessionID string, contents []*genai.Content) (string, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir sessions dir: %w", err)
	}
	raw, err := json.Marshal(contents)
	if err != nil {
		return "", fmt.Errorf("encode session %s: %w", sessionID, err)
	}
	path := filepath.Join(sessionsDir, sessionID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return "", fmt.Errorf("write session %s: %w", sessionID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("rename session %s: %w", sessionID, err)
	}
	return sessionID, nil
}

// writeTranscript drops a dated, human-readable copy of the full
// conversation into convDir, independent of the session file the loop
// actually round-trips through.
func writeTranscript(convDir, sessionID string, contents []*genai.Content) error {
	if err := os.MkdirAll(convDir, 0o755); err != nil {
		return fmt.Errorf("mkdir conversations dir: %w", err)
	}
	raw, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	name := fmt.Sprintf("%s-%s.json", time.Now().UTC().Format("20060102T150405"), sessionID)
	return os.WriteFile(filepath.Join(convDir, name), raw, 0o644)
}

// readSoul reads GEMINI.md out of dir, tolerating its absence: a group
// without a soul file just gets an empty system-prompt contribution.
func readSoul(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	data, err := os.ReadFile(filepath.Join(dir, "GEMINI.md"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read %s/GEMINI.md: %w", dir, err)
	}
	return string(data), nil
}
