package state

import "sync"

// ToolActivity is a snapshot of the assistant's tool execution state.
type ToolActivity struct {
	Running bool
	Tool    string
	Err     string
}

// Activity tracks tool-call lifecycle events for the active session so
// the interface can show a progress indicator while the assistant works.
type Activity struct {
	mu      sync.Mutex
	current ToolActivity
}

// NewActivity returns an idle indicator.
func NewActivity() *Activity {
	return &Activity{}
}

// Snapshot returns the current tool state.
func (a *Activity) Snapshot() ToolActivity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Start marks a tool as running and clears any previous error.
func (a *Activity) Start(tool string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = ToolActivity{Running: true, Tool: tool}
}

// Finish marks the tool run complete.
func (a *Activity) Finish(tool string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = ToolActivity{Tool: tool}
}

// Fail records a failed tool run with its message.
func (a *Activity) Fail(tool, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = ToolActivity{Tool: tool, Err: message}
}

// Reset returns the indicator to idle. Called on session switch.
func (a *Activity) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = ToolActivity{}
}
