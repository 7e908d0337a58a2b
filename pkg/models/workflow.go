package models

import "time"

// WorkflowFileVersion is the format version written into exported files.
const WorkflowFileVersion = "1.0.0"

// Workflow is a named, persisted graph.
type Workflow struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"       validate:"required,min=1"`
	GraphJSON string    `json:"graph_json" validate:"required"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkflowFile is the downloadable workflow.json document.
type WorkflowFile struct {
	Elements []*Node              `json:"elements"`
	Edges    []*Edge              `json:"edges,omitempty"`
	Metadata WorkflowFileMetadata `json:"metadata"`
}

// WorkflowFileMetadata describes an exported workflow.
type WorkflowFileMetadata struct {
	Name    string    `json:"name"`
	Version string    `json:"version"`
	Created time.Time `json:"created"`
}
