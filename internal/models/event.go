package models

import "time"

// LogLevel classifies activity log entries.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelSuccess LogLevel = "success"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// ActivityEntry is one line of the orchestrator activity log.
type ActivityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	AgentID   string    `json:"agentId,omitempty"`
	Message   string    `json:"message"`
}

// EventKind identifies an outbound notification.
type EventKind string

const (
	EventTrade           EventKind = "trade"
	EventThought         EventKind = "thought"
	EventPortfolioUpdate EventKind = "portfolioUpdate"
	EventActivity        EventKind = "activity"
)

// Thought is an agent's latest observable reasoning.
type Thought struct {
	Message    string    `json:"message"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Event is a one-way notification. Exactly one payload field is set,
// matching Kind.
type Event struct {
	Kind      EventKind      `json:"kind"`
	AgentID   string         `json:"agentId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Trade     *Trade         `json:"trade,omitempty"`
	Thought   *Thought       `json:"thought,omitempty"`
	Portfolio *Portfolio     `json:"portfolio,omitempty"`
	Activity  *ActivityEntry `json:"activity,omitempty"`
}
