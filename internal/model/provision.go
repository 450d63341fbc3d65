package model

// ProvisionSignalName is the signal name used by the per-application workflow.
const ProvisionSignalName = "provision"

// ProvisionTask represents a unit of work to be processed sequentially
// by the per-application provisioning workflow.
type ProvisionTask struct {
	WorkflowName string `json:"workflow_name"`
	WorkflowID   string `json:"workflow_id"`
	Arg          any    `json:"arg"`
	CallbackURL  string `json:"callback_url,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
}

// ReconfigureTask is the argument of ReconfigureApplicationWorkflow. Zero
// fields keep the current value.
type ReconfigureTask struct {
	ApplicationID string `json:"application_id"`
	Cores         int    `json:"cores"`
	MemoryMB      int    `json:"memory_mb"`
}

// CloneTask is the argument of CloneApplicationWorkflow. SnapshotID is the
// creating backup row that holds the source's backup lock while the
// snapshot is taken.
type CloneTask struct {
	SourceID   string `json:"source_id"`
	TargetID   string `json:"target_id"`
	SnapshotID string `json:"snapshot_id"`
}
