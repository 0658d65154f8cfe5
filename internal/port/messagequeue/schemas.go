package messagequeue

// OrchestratePayload is the schema for onboard.orchestrate messages.
type OrchestratePayload struct {
	ContextID string `json:"context_id"`
	TenantID  string `json:"tenant_id"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ResumePayload is the schema for onboard.resume messages.
type ResumePayload struct {
	ContextID string `json:"context_id"`
	TenantID  string `json:"tenant_id"`
	RequestID string `json:"ui_request_id"`
	BatchID   string `json:"batch_id,omitempty"`
	Action    string `json:"action,omitempty"`
}
