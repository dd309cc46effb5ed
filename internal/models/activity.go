package models

// Activity is the fine-grained current behavior of an agent session.
type Activity string

// Activities produced by the classifier and accepted by the registry.
const (
	ActivityThinking      Activity = "thinking"
	ActivityReading       Activity = "reading"
	ActivityWriting       Activity = "writing"
	ActivityRunningCmd    Activity = "running_command"
	ActivitySearching     Activity = "searching"
	ActivitySpawningAgent Activity = "spawning_agent"
	ActivityWaitingInput  Activity = "waiting_input"
	ActivityDone          Activity = "done"
	ActivityIdle          Activity = "idle"
	ActivityLeaving       Activity = "leaving"
)

// State is the coarse bucket derived from an activity, used for display.
type State string

// Derived agent states.
const (
	StateWorking State = "WORKING"
	StateIdle    State = "IDLE"
	StateLeaving State = "LEAVING"
)

// DeriveState maps an activity to its coarse state. Pure and total:
// unrecognized activities land in WORKING, matching the mapping's
// catch-all for active behaviors.
func DeriveState(activity Activity) State {
	switch activity {
	case ActivityDone, ActivityIdle, ActivityWaitingInput, "waiting", "paused":
		return StateIdle
	case ActivityLeaving, "offline", "disconnected":
		return StateLeaving
	default:
		// thinking, working, coding, reading, writing, running_command,
		// searching, spawning_agent and anything unrecognized.
		return StateWorking
	}
}
