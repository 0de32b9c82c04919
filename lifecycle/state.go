package lifecycle

// State is a phase of the worker process
type State int

// Process states, in order. A failure before Serving goes straight to
// Terminated.
const (
	Unstarted State = iota
	Configuring
	Connecting
	Composing
	Serving
	ShuttingDown
	Terminated
)

var stateNames = []string{
	Unstarted:    "unstarted",
	Configuring:  "configuring",
	Connecting:   "connecting",
	Composing:    "composing",
	Serving:      "serving",
	ShuttingDown: "shutting_down",
	Terminated:   "terminated",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// AllStates returns every state name, used as the process_state label set
func AllStates() []string {
	out := make([]string, len(stateNames))
	copy(out, stateNames)
	return out
}
