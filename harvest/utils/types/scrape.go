// harvest/utils/types/scrape.go
package types

import "encoding/json"

// ExtractRequest is the body accepted by every extraction route.
type ExtractRequest struct {
	Task string `json:"task"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// StepEvent reports one finished agent step.
type StepEvent struct {
	RunID   string          `json:"run_id"`
	Step    int             `json:"step"`
	Action  string          `json:"action"`
	Params  json.RawMessage `json:"params,omitempty"`
	Outcome string          `json:"outcome"`
	Failed  bool            `json:"failed,omitempty"`
	URL     string          `json:"url,omitempty"`
	Planned bool            `json:"planned,omitempty"` // planner ran before this step
}

// StreamMessage is one websocket frame of the streaming extraction route.
type StreamMessage struct {
	Type    string `json:"type"` // step | result | error
	Payload any    `json:"payload"`
}

// ProtocolInfo describes a registered extraction protocol.
type ProtocolInfo struct {
	ID     string   `json:"id"`
	Route  string   `json:"route"`
	Kind   string   `json:"kind"`
	Fields []string `json:"fields"`
}
