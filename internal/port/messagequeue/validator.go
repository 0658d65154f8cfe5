package messagequeue

import (
	"encoding/json"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectOrchestrate:
		var p OrchestratePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.ContextID == "" {
			return fmt.Errorf("schema validation failed for %s: context_id is required", subject)
		}
	case SubjectResume:
		var p ResumePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.ContextID == "" {
			return fmt.Errorf("schema validation failed for %s: context_id is required", subject)
		}
	}
	return nil
}
