package protocol

// RPC method name constants.

// System
const (
	MethodConnect = "connect"
	MethodHealth  = "health"
	MethodStatus  = "status"
	MethodSend    = "send"
)

// Sessions
const (
	MethodSessionsList    = "sessions.list"
	MethodSessionsPreview = "sessions.preview"
	MethodSessionsReset   = "sessions.reset"
	MethodSessionsDelete  = "sessions.delete"
)

// Channels
const (
	MethodChannelsList   = "channels.list"
	MethodChannelsStatus = "channels.status"
)

// Cron
const (
	MethodCronList = "cron.list"
	MethodCronRun  = "cron.run"
)

// Nodes (connected operator clients)
const (
	MethodNodesList = "nodes.list"
)

// Pairing (DM access approval)
const (
	MethodPairingApprove = "pairing.approve"
	MethodPairingList    = "pairing.list"
	MethodPairingRevoke  = "pairing.revoke"
)

// Wizard (config onboarding state machine)
const (
	MethodWizardStart  = "wizard.start"
	MethodWizardNext   = "wizard.next"
	MethodWizardCancel = "wizard.cancel"
)

// Chat
const (
	MethodChatSend  = "chat.send"
	MethodChatAbort = "chat.abort"
)
