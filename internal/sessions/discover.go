package sessions

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ActiveWindow is how recently a log file must have been modified to be
// considered discoverable.
const ActiveWindow = 12 * time.Hour

// LogFile is one discovered session or sub-agent log file.
type LogFile struct {
	// AgentID identifies the agent backed by this file: the session id for
	// a top-level log, a distinct sub-agent id for a sidechain log.
	AgentID string

	// SessionID is the owning top-level session's id. Equal to AgentID for
	// top-level logs.
	SessionID string

	// Path is the absolute path of the log file.
	Path string

	// ProjectPath is the decoded project directory the session runs in.
	ProjectPath string

	// IsSubagent marks files found under a session's subagents directory.
	IsSubagent bool

	// ModTime is the file's last modification time at discovery.
	ModTime time.Time
}

// Discover walks the log root and returns every session and sub-agent log
// file modified within the active window. Transient I/O errors on
// individual directories are skipped, not fatal.
func Discover(root string) ([]LogFile, error) {
	return DiscoverSince(root, time.Now().Add(-ActiveWindow))
}

// DiscoverSince returns log files modified at or after cutoff.
func DiscoverSince(root string, cutoff time.Time) ([]LogFile, error) {
	projectDirs, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var found []LogFile
	for _, pd := range projectDirs {
		if !pd.IsDir() {
			continue
		}
		projectDir := filepath.Join(root, pd.Name())
		projectPath := DecodeProjectPath(pd.Name())

		entries, err := os.ReadDir(projectDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			if !strings.HasSuffix(name, LogFileExt) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			sessionID := strings.TrimSuffix(name, LogFileExt)
			if info.ModTime().After(cutoff) {
				found = append(found, LogFile{
					AgentID:     sessionID,
					SessionID:   sessionID,
					Path:        filepath.Join(projectDir, name),
					ProjectPath: projectPath,
					ModTime:     info.ModTime(),
				})
			}
			// Sub-agent logs live under <session>/subagents/ and are
			// discovered even when the parent log itself has gone quiet.
			found = append(found, discoverSubagents(projectDir, projectPath, sessionID, cutoff)...)
		}
	}
	return found, nil
}

func discoverSubagents(projectDir, projectPath, sessionID string, cutoff time.Time) []LogFile {
	dir := SubagentsDir(projectDir, sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var found []LogFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, LogFileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().After(cutoff) {
			continue
		}
		found = append(found, LogFile{
			AgentID:     strings.TrimSuffix(name, LogFileExt),
			SessionID:   sessionID,
			Path:        filepath.Join(dir, name),
			ProjectPath: projectPath,
			IsSubagent:  true,
			ModTime:     info.ModTime(),
		})
	}
	return found
}
