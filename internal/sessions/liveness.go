package sessions

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LivenessProber maps a session's working directory to a running agent
// process, if one exists. The result is a hint only: classification treats
// it as "the operator probably still has this session open", never as
// ground truth.
type LivenessProber interface {
	// Probe returns the pid of an agent process whose working directory is
	// projectPath, or 0 if none is found.
	Probe(projectPath string) int
}

// ProcProber implements LivenessProber via the /proc process table.
type ProcProber struct {
	// ProcessNames are the executable names counted as agent processes.
	ProcessNames []string
}

// NewProcProber creates a prober matching the default agent binary name.
func NewProcProber() *ProcProber {
	return &ProcProber{ProcessNames: []string{"claude"}}
}

// Probe scans /proc for a matching process with cwd == projectPath.
func (p *ProcProber) Probe(projectPath string) int {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0
	}
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		comm, err := os.ReadFile(filepath.Join("/proc", e.Name(), "comm"))
		if err != nil {
			continue
		}
		name := strings.TrimSpace(string(comm))
		if !p.matches(name) {
			continue
		}
		cwd, err := os.Readlink(filepath.Join("/proc", e.Name(), "cwd"))
		if err != nil {
			continue
		}
		if cwd == projectPath {
			return pid
		}
	}
	return 0
}

func (p *ProcProber) matches(name string) bool {
	for _, want := range p.ProcessNames {
		if name == want || strings.HasPrefix(name, want) {
			return true
		}
	}
	return false
}

// NoopProber always reports no process. Used where /proc is unavailable.
type NoopProber struct{}

// Probe implements LivenessProber.
func (NoopProber) Probe(string) int { return 0 }
