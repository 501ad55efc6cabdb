package protocol

import "encoding/json"

// Message is the envelope shared by both directions: {type, payload?}.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage marshals payload into a Message envelope.
// Marshal failures are programming errors (payloads are our own structs),
// so the payload is dropped rather than propagated.
func NewMessage(msgType string, payload any) Message {
	if payload == nil {
		return Message{Type: msgType}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{Type: msgType}
	}
	return Message{Type: msgType, Payload: data}
}

// PlayerInputPayload is the client's player_input payload.
type PlayerInputPayload struct {
	Text string `json:"text"`
}

// AuthenticatePayload is the optional post-open authenticate payload.
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// AdventureLoadedPayload confirms a successful session initialization.
type AdventureLoadedPayload struct {
	AdventureID string         `json:"adventureId"`
	History     []HistoryEntry `json:"history"`
}

// HistoryEntry mirrors the persisted narrative entry on the wire.
type HistoryEntry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"` // "player_input" or "gm_response"
	Content   string `json:"content"`
}

// ThemeChangePayload carries the current visual theme.
type ThemeChangePayload struct {
	Mood          string  `json:"mood"`
	Genre         string  `json:"genre"`
	Region        string  `json:"region"`
	BackgroundURL *string `json:"backgroundUrl"`
}

// GMResponseStartPayload opens a streamed GM response.
type GMResponseStartPayload struct {
	MessageID string `json:"messageId"`
}

// GMResponseChunkPayload is one streamed text fragment.
type GMResponseChunkPayload struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

// GMResponseEndPayload closes a streamed GM response.
type GMResponseEndPayload struct {
	MessageID string `json:"messageId"`
}

// ToolStatusPayload reports coarse agent activity to the client.
type ToolStatusPayload struct {
	State       string `json:"state"` // ToolStateActive or ToolStateIdle
	Description string `json:"description"`
}

// PanelPayload is the full panel shape sent on panel_create.
type PanelPayload struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Position   string `json:"position"` // "sidebar", "header", "overlay"
	Priority   string `json:"priority,omitempty"`
	Persistent bool   `json:"persistent"`
	CreatedAt  string `json:"createdAt"`
}

// PanelUpdatePayload carries replacement content for an existing panel.
type PanelUpdatePayload struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// PanelDismissPayload removes a panel.
type PanelDismissPayload struct {
	ID string `json:"id"`
}

// RecapCompletePayload reports the post-recap history state.
type RecapCompletePayload struct {
	History []HistoryEntry  `json:"history"`
	Summary *SummaryPayload `json:"summary"`
}

// SummaryPayload is the rolling narrative summary on the wire.
type SummaryPayload struct {
	Text             string   `json:"text"`
	CoveringEntryIDs []string `json:"coveringEntryIds"`
}

// RecapErrorPayload reports why a recap could not run.
type RecapErrorPayload struct {
	Reason string `json:"reason"`
}

// ErrorPayload is the classified error surface.
type ErrorPayload struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	Retryable        bool   `json:"retryable"`
	TechnicalDetails string `json:"technicalDetails,omitempty"`
}
