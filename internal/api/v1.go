package api

import "time"

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Error         APIError  `json:"error"`
}

// PipeRequest carries one command word, exactly as a keybinding would pipe
// it to the picker.
type PipeRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Payload   string `json:"payload"`
}

type PipeResponse struct {
	SchemaVersion string          `json:"schema_version"`
	GeneratedAt   time.Time       `json:"generated_at"`
	RequestID     string          `json:"request_id"`
	Accepted      bool            `json:"accepted"`
	Executed      []OperationItem `json:"executed"`
	State         StateResponse   `json:"state"`
}

type StateResponse struct {
	InstanceID     string   `json:"instance_id"`
	Permission     string   `json:"permission"`
	Picked         []string `json:"picked"`
	Pending        string   `json:"pending,omitempty"`
	InventoryReady bool     `json:"inventory_ready"`
	Buffered       int      `json:"buffered"`
	Visible        bool     `json:"visible"`
}

type RenderResponse struct {
	SchemaVersion string        `json:"schema_version"`
	GeneratedAt   time.Time     `json:"generated_at"`
	Rows          int           `json:"rows"`
	Cols          int           `json:"cols"`
	Text          string        `json:"text"`
	State         StateResponse `json:"state"`
}

type OperationItem struct {
	OperationID string   `json:"operation_id"`
	RequestID   string   `json:"request_id,omitempty"`
	InstanceID  string   `json:"instance_id"`
	Command     string   `json:"command"`
	Outcome     string   `json:"outcome"`
	Panes       []string `json:"panes"`
	TabPosition *int     `json:"tab_position,omitempty"`
	CreatedAt   string   `json:"created_at"`
}

type HistoryEnvelope struct {
	SchemaVersion string          `json:"schema_version"`
	GeneratedAt   time.Time       `json:"generated_at"`
	Operations    []OperationItem `json:"operations"`
}
