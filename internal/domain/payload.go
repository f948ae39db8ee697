package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// DefaultPriority is used when a job does not request one. Lower values are
// served first. Zero means unset, so requested priorities start at
// MinPriority.
const (
	DefaultPriority = 5
	MinPriority     = 1
)

// JobOptions is the free-form options map with its recognised keys lifted
// into fields. Unknown keys are kept in Extra and passed to the engine.
type JobOptions struct {
	Priority int
	Extra    map[string]any
}

const optionPriority = "priority"

func (o JobOptions) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(o.Extra)+1)
	for k, v := range o.Extra {
		m[k] = v
	}
	if o.Priority != 0 {
		m[optionPriority] = o.Priority
	}
	return json.Marshal(m)
}

func (o *JobOptions) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*o = JobOptions{}
	if raw, ok := m[optionPriority]; ok {
		p, err := intOption(raw)
		if err != nil {
			return fmt.Errorf("option priority: %w", err)
		}
		if raw != nil && p < MinPriority {
			return fmt.Errorf("%w: option priority %d is below %d", ErrInvalidPriority, p, MinPriority)
		}
		o.Priority = p
		delete(m, optionPriority)
	}
	if len(m) > 0 {
		o.Extra = m
	}
	return nil
}

// EffectivePriority returns the requested priority or DefaultPriority.
func (o JobOptions) EffectivePriority() int {
	if o.Priority == 0 {
		return DefaultPriority
	}
	return o.Priority
}

func intOption(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	case int:
		return n, nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("unexpected type %T", v)
}

// Payload is the queue message handed to workers.
type Payload struct {
	JobID         string       `json:"jobId"`
	InputFilePath string       `json:"inputFilePath"`
	OutputFormat  OutputFormat `json:"outputFormat"`
	QualityPreset Quality      `json:"qualityPreset,omitempty"`
	Options       JobOptions   `json:"options,omitempty"`
}

func (p Payload) Priority() int {
	return p.Options.EffectivePriority()
}
