// Package sessions knows the on-disk layout of agent session logs and
// discovers the currently active session and sub-agent files.
package sessions

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// LogRootEnv overrides the session log root directory.
	LogRootEnv = "AGENTFLOOR_LOG_ROOT"

	// DefaultLogRootDir is the log root relative to the home directory.
	DefaultLogRootDir = ".claude/projects"

	// SubagentsDirName is the per-session directory holding sub-agent logs.
	SubagentsDirName = "subagents"

	// LogFileExt is the extension of append-only session log files.
	LogFileExt = ".jsonl"
)

// LogRoot returns the session log root directory, honoring the env override.
func LogRoot() (string, error) {
	if root := os.Getenv(LogRootEnv); root != "" {
		return root, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultLogRootDir), nil
}

// SubagentsDir returns the sub-agent log directory for a session.
func SubagentsDir(projectDir, sessionID string) string {
	return filepath.Join(projectDir, sessionID, SubagentsDirName)
}

// DecodeProjectPath turns an encoded project directory name back into a
// filesystem path. Directory names encode the path with dashes, e.g.
// "-home-alice-src-widget" for /home/alice/src/widget.
func DecodeProjectPath(dirName string) string {
	if !strings.HasPrefix(dirName, "-") {
		return dirName
	}
	return strings.ReplaceAll(dirName, "-", string(os.PathSeparator))
}
