package resource

import "fmt"

// State is the lifecycle state of an [Entry].
type State int32

// Resource states.
const (
	StateUnknown State = iota
	StateRequesting
	StateRequested
	StateProcessingRequest
	StateReady
	StateUnavailable
	StateRequestCanceledWhileBeingProcessed
	StateUploading
	StateUploaded
	StateIsBeingUsed
	StateUnloadPending
	StateUnloading
	StateUnloaded
	StateJustBeforeDeath
)

var stateNames = [...]string{
	StateUnknown:                            "Unknown",
	StateRequesting:                         "Requesting",
	StateRequested:                          "Requested",
	StateProcessingRequest:                  "ProcessingRequest",
	StateReady:                              "Ready",
	StateUnavailable:                        "Unavailable",
	StateRequestCanceledWhileBeingProcessed: "RequestCanceledWhileBeingProcessed",
	StateUploading:                          "Uploading",
	StateUploaded:                           "Uploaded",
	StateIsBeingUsed:                        "IsBeingUsed",
	StateUnloadPending:                      "UnloadPending",
	StateUnloading:                          "Unloading",
	StateUnloaded:                           "Unloaded",
	StateJustBeforeDeath:                    "JustBeforeDeath",
}

// String returns the state name.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// States returns every state in declaration order.
func States() []State {
	states := make([]State, 0, len(stateNames))
	for s := StateUnknown; s <= StateJustBeforeDeath; s++ {
		states = append(states, s)
	}
	return states
}

// IsTerminal reports whether s is the terminal state.
func (s State) IsTerminal() bool {
	return s == StateJustBeforeDeath
}

// HoldsGPUResources reports whether an entry in state s may own live GPU
// handles. Entries in these states must never be released or dropped.
func (s State) HoldsGPUResources() bool {
	switch s {
	case StateUploading, StateUploaded, StateIsBeingUsed, StateUnloadPending, StateUnloading:
		return true
	default:
		return false
	}
}

// edges is the complete transition graph. Every CAS performed by Entry
// must be listed here.
var edges = map[State][]State{
	StateUnknown:                            {StateRequesting},
	StateRequesting:                         {StateRequested, StateJustBeforeDeath},
	StateRequested:                          {StateProcessingRequest, StateJustBeforeDeath},
	StateProcessingRequest:                  {StateReady, StateUnavailable, StateRequestCanceledWhileBeingProcessed},
	StateRequestCanceledWhileBeingProcessed: {StateJustBeforeDeath},
	StateReady:                              {StateUploading, StateJustBeforeDeath},
	StateUploading:                          {StateUploaded, StateReady},
	StateUploaded:                           {StateIsBeingUsed, StateUnloadPending},
	StateIsBeingUsed:                        {StateUploaded},
	StateUnloadPending:                      {StateUnloading},
	StateUnloading:                          {StateUnloaded},
	StateUnloaded:                           {StateJustBeforeDeath},
	StateUnavailable:                        {StateJustBeforeDeath},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to State) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}
