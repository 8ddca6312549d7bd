package session

import "sync"

// State is the position of the session state machine.
type State int

const (
	Scanning State = iota
	Connecting
	Subscribing
	Ready
	Transferring
	Disconnecting
)

var stateNames = [...]string{
	Scanning:      "scanning",
	Connecting:    "connecting",
	Subscribing:   "subscribing",
	Ready:         "ready",
	Transferring:  "transferring",
	Disconnecting: "disconnecting",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// StateNames lists every state name, in order.
func StateNames() []string {
	return append([]string(nil), stateNames[:]...)
}

// Snapshot is the read-only view of the session handed to the API.
type Snapshot struct {
	State         string  `json:"state"`
	Text          string  `json:"status"`
	UsagePercent  float64 `json:"storage_usage"`
	ConfigPending bool    `json:"settings_pending"`
	Device        string  `json:"device,omitempty"`
}

// status is written by the session goroutines and read by the API.
type status struct {
	mu     sync.RWMutex
	state  State
	text   string
	usage  float64
	device string
}

func (st *status) setState(s State) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.state = s
}

// swapState moves to next only when the current state is from.
func (st *status) swapState(from, next State) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.state != from {
		return false
	}
	st.state = next
	return true
}

func (st *status) setText(text string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.text = text
}

func (st *status) setUsage(percent float64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.usage = percent
}

func (st *status) setDevice(device string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.device = device
}

func (st *status) snapshot() Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return Snapshot{
		State:        st.state.String(),
		Text:         st.text,
		UsagePercent: st.usage,
		Device:       st.device,
	}
}
