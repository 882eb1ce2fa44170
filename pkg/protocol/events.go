package protocol

// WebSocket event names pushed from server to client.
const (
	EventConnectChallenge = "connect.challenge"
	EventHealth           = "health"
	EventChat             = "chat"
	EventAgent            = "agent"
	EventCron             = "cron"
	EventPresence         = "presence"
	EventTick             = "tick"
	EventShutdown         = "shutdown"
	EventWizard           = "wizard"
)

// Agent event subtypes (in payload.type).
const (
	AgentEventTurnStarted   = "turn.started"
	AgentEventTurnCompleted = "turn.completed"
	AgentEventTurnFailed    = "turn.failed"
	AgentEventTurnAborted   = "turn.aborted"
)
