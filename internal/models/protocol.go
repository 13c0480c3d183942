package models

import "encoding/json"

// Envelope is the frame exchanged on the realtime channel. Event names the handler on the other side, Data
// carries the event payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Offer is the payload of an EventOffer frame: one user question addressed to a thread.
type Offer struct {
	Question string `json:"question"`
	ChatID   string `json:"chat_id"`
}

// Realtime event names.
const (
	EventOffer   = "offer"   // client to server, payload Offer
	EventMessage = "message" // server to client, payload a JSON string: a token or TerminalSentinel
)
