package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/plaenen/taskstream/pkg/domain"
)

// SummaryRejectValidator fails audit of any Updated envelope whose
// summary update sets the configured value, forcing the harness to
// redeliver it. It exists to exercise the retry path end to end and is
// registered per entity by the audit binary; the generic consumer knows
// nothing about it.
type SummaryRejectValidator struct {
	// Value is the summary to reject. Empty means RejectedSummaryValue.
	Value string
}

// RejectedSummaryValue is the value the reference deployment rejects.
const RejectedSummaryValue = "5"

func (v SummaryRejectValidator) rejected() string {
	if v.Value == "" {
		return RejectedSummaryValue
	}
	return v.Value
}

// ValidateEnvelope implements audit.Validator.
func (v SummaryRejectValidator) ValidateEnvelope(env *domain.Envelope) error {
	if env.Entity != AggregateType || env.EventType != EventTypeUpdated {
		return nil
	}
	var e Updated
	if err := json.Unmarshal([]byte(env.Payload), &e); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}
	if s, ok := e.Update.Summary.Get(); ok && s == v.rejected() {
		return fmt.Errorf("summary value %q is rejected", s)
	}
	return nil
}
