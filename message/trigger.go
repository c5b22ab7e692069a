package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowCombineOrder names the completion pass workflow.
const WorkflowCombineOrder = "combineorder"

// PassTrigger asks a worker to run one completion pass for Key.
type PassTrigger struct {
	ID          string         `json:"id"`
	Workflow    string         `json:"workflow"`
	Key         string         `json:"key"`
	Input       *FileReference `json:"input,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
}

// Validate checks the envelope before it is published or after it is
// received.
func (t PassTrigger) Validate() error {
	if t.Workflow == "" {
		return fmt.Errorf("pass trigger: workflow is required")
	}
	if t.Key == "" {
		return fmt.Errorf("pass trigger: key is required")
	}
	return nil
}

// DecodePassTrigger unmarshals and validates data.
func DecodePassTrigger(data []byte) (PassTrigger, error) {
	var t PassTrigger
	if err := json.Unmarshal(data, &t); err != nil {
		return PassTrigger{}, fmt.Errorf("pass trigger: %w", err)
	}
	if err := t.Validate(); err != nil {
		return PassTrigger{}, err
	}
	return t, nil
}
