package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Component messages
	MessageTypeComponentLevel  MessageType = "component_level"
	MessageTypeStateTransition MessageType = "state_transition"

	// Cycle messages
	MessageTypeCycleOverrun MessageType = "cycle_overrun"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Component string      `json:"component,omitempty"`
	Data      interface{} `json:"data"`
}

// ComponentLevelData is sent when a component's level changes.
type ComponentLevelData struct {
	Level    string `json:"level"`
	Previous string `json:"previous_level"`
}

// StateTransitionData is sent when a driver state machine changes state.
type StateTransitionData struct {
	State    string `json:"state"`
	Previous string `json:"previous_state"`
}

// CycleOverrunData is sent when a cycle exceeded its budget.
type CycleOverrunData struct {
	Elapsed   time.Duration `json:"elapsed_ns"`
	CycleTime time.Duration `json:"cycle_time_ns"`
	Overruns  uint64        `json:"overruns"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, component string, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Component: component,
		Data:      data,
	}
}

func NewComponentLevelMessage(component, level, previous string) Message {
	return NewMessage(MessageTypeComponentLevel, component, ComponentLevelData{
		Level:    level,
		Previous: previous,
	})
}

func NewStateTransitionMessage(component, state, previous string) Message {
	return NewMessage(MessageTypeStateTransition, component, StateTransitionData{
		State:    state,
		Previous: previous,
	})
}

func NewCycleOverrunMessage(elapsed, cycleTime time.Duration, overruns uint64) Message {
	return NewMessage(MessageTypeCycleOverrun, "", CycleOverrunData{
		Elapsed:   elapsed,
		CycleTime: cycleTime,
		Overruns:  overruns,
	})
}

func NewSystemStatusMessage(status interface{}) Message {
	return NewMessage(MessageTypeSystemStatus, "", status)
}
