package monitor

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentfloor/agentfloor/internal/classify"
	"github.com/agentfloor/agentfloor/internal/logreader"
	"github.com/agentfloor/agentfloor/internal/models"
	"github.com/agentfloor/agentfloor/internal/sessions"
)

// Renderer receives the session set after every refresh. Pure presentation;
// implementations must not block for long.
type Renderer interface {
	Render(records []SessionRecord)
}

// Syncer pushes the session set to the remote registry. Errors are the
// syncer's own problem: a failed cycle retries on the next refresh.
type Syncer interface {
	SyncAll(records []SessionRecord)
}

// Timing knobs of the control loop. Hand-tuned values; override in tests.
type Timing struct {
	ReapInterval     time.Duration
	FallbackInterval time.Duration
	SidechainDoneAge time.Duration // done sidechains older than this are reaped
	SidechainTTL     time.Duration // unhinted, non-terminal sidechains expire after this
}

// DefaultTiming returns the production control loop intervals.
func DefaultTiming() Timing {
	return Timing{
		ReapInterval:     30 * time.Second,
		FallbackInterval: 60 * time.Second,
		SidechainDoneAge: 5 * time.Minute,
		SidechainTTL:     2 * time.Minute,
	}
}

// recordWindow is how many trailing records the classifier sees per file.
const recordWindow = 50

// Monitor is the client control loop.
type Monitor struct {
	root       string
	timing     Timing
	reader     *logreader.Reader
	classifier *classify.Classifier
	prober     sessions.LivenessProber
	renderer   Renderer
	syncer     Syncer
	watcher    *Watcher
	now        func() time.Time

	mu         sync.Mutex
	refreshing bool
	pending    bool
	sessions   map[string]SessionRecord // keyed by AgentID

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Monitor. renderer and syncer may be nil (headless modes).
func New(root string, timing Timing, prober sessions.LivenessProber, renderer Renderer, syncer Syncer) *Monitor {
	return &Monitor{
		root:       root,
		timing:     timing,
		reader:     logreader.New(),
		classifier: classify.New(classify.DefaultThresholds()),
		prober:     prober,
		renderer:   renderer,
		syncer:     syncer,
		now:        time.Now,
		sessions:   make(map[string]SessionRecord),
		done:       make(chan struct{}),
	}
}

// Start begins watching for changes and runs the periodic loop. It kicks
// off an initial refresh immediately.
func (m *Monitor) Start() error {
	watcher, err := NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Start(m.root); err != nil {
		watcher.Stop()
		return err
	}
	m.watcher = watcher

	go m.run()
	m.Refresh()
	return nil
}

// Stop halts the loop and the file watcher.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		if m.watcher != nil {
			m.watcher.Stop()
		}
	})
}

// Sessions returns a snapshot of the current session set.
func (m *Monitor) Sessions() []SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) run() {
	reap := time.NewTicker(m.timing.ReapInterval)
	defer reap.Stop()
	fallback := time.NewTicker(m.timing.FallbackInterval)
	defer fallback.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-m.watcher.Signal():
			m.Refresh()
		case <-fallback.C:
			m.Refresh()
		case <-reap.C:
			m.reap()
		}
	}
}

// Refresh runs one classification cycle. If a cycle is already in flight,
// exactly one extra run is queued to start after it finishes; further
// requests coalesce into that pending run.
func (m *Monitor) Refresh() {
	m.mu.Lock()
	if m.refreshing {
		m.pending = true
		m.mu.Unlock()
		return
	}
	m.refreshing = true
	m.mu.Unlock()

	for {
		m.refreshOnce()

		m.mu.Lock()
		if !m.pending {
			m.refreshing = false
			m.mu.Unlock()
			return
		}
		m.pending = false
		m.mu.Unlock()
	}
}

func (m *Monitor) refreshOnce() {
	files, err := sessions.Discover(m.root)
	if err != nil {
		log.Printf("[monitor] discovery failed: %v", err)
		return
	}

	now := m.now()
	next := make(map[string]SessionRecord, len(files))
	activePaths := make(map[string]bool, len(files))
	watchDirs := map[string]bool{m.root: true}

	m.mu.Lock()
	prev := m.sessions
	m.mu.Unlock()

	for _, file := range files {
		activePaths[file.Path] = true
		watchDirs[filepath.Dir(file.Path)] = true

		records, err := m.reader.GetRecentMessages(file.Path, recordWindow)
		if err != nil {
			log.Printf("[monitor] read %s: %v", file.Path, err)
			continue
		}

		pid := 0
		if m.prober != nil {
			pid = m.prober.Probe(file.ProjectPath)
		}

		info := m.classifier.Classify(records, file.ModTime, pid != 0)
		isSidechain := file.IsSubagent || classify.IsSidechain(records, file.SessionID)

		rec := SessionRecord{
			AgentID:      file.AgentID,
			ProjectPath:  file.ProjectPath,
			IsSidechain:  isSidechain,
			PID:          pid,
			Activity:     info.Type,
			Detail:       info.Detail,
			ToolName:     info.ToolName,
			ContextUsage: contextUsage(records),
			LastUpdate:   now,
		}
		if isSidechain {
			rec.ParentSessionID = file.SessionID
		}
		// LastUpdate marks the last activity *transition*, so reap ages are
		// measured from the change, not from the newest cycle.
		if old, ok := prev[rec.AgentID]; ok && old.Activity == rec.Activity {
			rec.LastUpdate = old.LastUpdate
		}
		next[rec.AgentID] = rec
	}

	m.reader.RetainOnly(activePaths)
	if m.watcher != nil {
		for dir := range watchDirs {
			if err := m.watcher.Watch(dir); err != nil {
				log.Printf("[monitor] watch %s: %v", dir, err)
			}
		}
		m.watcher.RetainOnly(watchDirs)
	}

	m.mu.Lock()
	m.sessions = next
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.publish(snapshot)
}

// reap removes sidechain records that have run their course: done ones past
// the done age, and unhinted non-terminal ones past the TTL. Main sessions
// are never time-reaped; they leave only when discovery stops finding them.
func (m *Monitor) reap() {
	now := m.now()

	m.mu.Lock()
	removed := 0
	for id, rec := range m.sessions {
		if !rec.IsSidechain {
			continue
		}
		age := now.Sub(rec.LastUpdate)
		switch {
		case rec.Activity == models.ActivityDone && age > m.timing.SidechainDoneAge:
			delete(m.sessions, id)
			removed++
		case rec.PID == 0 &&
			rec.Activity != models.ActivityWaitingInput &&
			rec.Activity != models.ActivityDone &&
			age > m.timing.SidechainTTL:
			delete(m.sessions, id)
			removed++
		}
	}
	var snapshot []SessionRecord
	if removed > 0 {
		snapshot = m.snapshotLocked()
	}
	m.mu.Unlock()

	if removed > 0 {
		log.Printf("[monitor] reaped %d stale sidechain(s)", removed)
		m.publish(snapshot)
	}
}

func (m *Monitor) publish(snapshot []SessionRecord) {
	if m.renderer != nil {
		m.renderer.Render(snapshot)
	}
	if m.syncer != nil {
		m.syncer.SyncAll(snapshot)
	}
}

func (m *Monitor) snapshotLocked() []SessionRecord {
	out := make([]SessionRecord, 0, len(m.sessions))
	for _, rec := range m.sessions {
		out = append(out, rec)
	}
	return out
}

