package docjob

import (
	"encoding/json"
	"fmt"
)

// StageMessage is the envelope every queue message carries. Unknown fields
// received on the wire are preserved in Extra and re-emitted on marshal so
// older workers can relay messages from newer producers untouched.
type StageMessage struct {
	JobID   string            `json:"-"`
	OwnerID string            `json:"-"`
	Stage   Stage             `json:"-"`
	Cycle   int               `json:"-"`
	Inputs  map[string]string `json:"-"`
	Attempt int               `json:"-"`
	TraceID string            `json:"-"`

	// Extra holds fields this version does not understand.
	Extra map[string]json.RawMessage `json:"-"`
}

// knownMessageFields are the envelope fields owned by this version.
var knownMessageFields = map[string]bool{
	"job_id": true, "owner_id": true, "stage": true, "cycle": true,
	"inputs": true, "attempt": true, "trace_id": true,
}

type stageMessageWire struct {
	JobID   string            `json:"job_id"`
	OwnerID string            `json:"owner_id"`
	Stage   string            `json:"stage"`
	Cycle   int               `json:"cycle,omitempty"`
	Inputs  map[string]string `json:"inputs,omitempty"`
	Attempt int               `json:"attempt,omitempty"`
	TraceID string            `json:"trace_id,omitempty"`
}

// MarshalJSON emits the envelope fields plus any preserved unknown fields.
func (m StageMessage) MarshalJSON() ([]byte, error) {
	wire := stageMessageWire{
		JobID:   m.JobID,
		OwnerID: m.OwnerID,
		Stage:   string(m.Stage),
		Cycle:   m.Cycle,
		Inputs:  m.Inputs,
		Attempt: m.Attempt,
		TraceID: m.TraceID,
	}
	base, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if !knownMessageFields[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the envelope and captures unknown fields.
func (m *StageMessage) UnmarshalJSON(data []byte) error {
	var wire stageMessageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var extra map[string]json.RawMessage
	for k, v := range raw {
		if knownMessageFields[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}

	m.JobID = wire.JobID
	m.OwnerID = wire.OwnerID
	m.Stage = Stage(wire.Stage)
	m.Cycle = wire.Cycle
	m.Inputs = wire.Inputs
	m.Attempt = wire.Attempt
	m.TraceID = wire.TraceID
	m.Extra = extra
	return nil
}

// Validate checks the envelope invariants a worker requires before doing
// any work. A message failing validation must be dead-lettered, not retried.
func (m *StageMessage) Validate() error {
	if m.JobID == "" {
		return fmt.Errorf("stage message missing job_id")
	}
	if m.OwnerID == "" {
		return fmt.Errorf("stage message missing owner_id")
	}
	if m.Stage == "" {
		return fmt.Errorf("stage message missing stage")
	}
	if ParseStage(string(m.Stage)) == "" {
		return fmt.Errorf("stage message has unknown stage %q", m.Stage)
	}
	if m.Cycle < 0 {
		return fmt.Errorf("stage message has negative cycle %d", m.Cycle)
	}
	return nil
}

// Input returns the named input path, or "" when absent.
func (m *StageMessage) Input(role string) string {
	if m.Inputs == nil {
		return ""
	}
	return m.Inputs[role]
}
