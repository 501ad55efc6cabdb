package protocol

// ProtocolVersion is bumped when the wire surface changes incompatibly.
const ProtocolVersion = 1

// Client → server message types.
const (
	TypePing           = "ping"
	TypePlayerInput    = "player_input"
	TypeAuthenticate   = "authenticate"
	TypeRecap          = "recap"
	TypeStartAdventure = "start_adventure" // legacy no-op, accepted and ignored
)

// Server → client message types.
const (
	TypePong            = "pong"
	TypeAdventureLoaded = "adventure_loaded"
	TypeThemeChange     = "theme_change"
	TypeGMResponseStart = "gm_response_start"
	TypeGMResponseChunk = "gm_response_chunk"
	TypeGMResponseEnd   = "gm_response_end"
	TypeToolStatus      = "tool_status"
	TypePanelCreate     = "panel_create"
	TypePanelUpdate     = "panel_update"
	TypePanelDismiss    = "panel_dismiss"
	TypeRecapStarted    = "recap_started"
	TypeRecapComplete   = "recap_complete"
	TypeRecapError      = "recap_error"
	TypeError           = "error"
)

// Tool status states (payload.state of tool_status).
const (
	ToolStateActive = "active"
	ToolStateIdle   = "idle"
)

// Error codes carried in error payloads.
const (
	ErrInvalidToken      = "INVALID_TOKEN"
	ErrAdventureNotFound = "ADVENTURE_NOT_FOUND"
	ErrStateCorrupted    = "STATE_CORRUPTED"
	ErrGM                = "GM_ERROR"
	ErrAuth              = "AUTH_ERROR"
	ErrRateLimit         = "RATE_LIMIT"
	ErrProcessingTimeout = "PROCESSING_TIMEOUT"
)

// WebSocket close codes used by the hub.
const (
	CloseHeartbeatTimeout = 1000
	CloseAuthFailure      = 1008
	CloseAtCapacity       = 1013
)
