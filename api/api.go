// Package api defines the REST collaborators of the HoneyHive backend.
// The span pipeline consumes only Sessions.Start at tracer init and the
// event ingestion POST (owned by the export layer); the remaining
// interfaces name the surface for host applications and higher-level
// tooling without pulling their implementations into the core.
package api

import (
	"context"

	"github.com/honeyhiveai/honeyhive-go/schema"
)

// SessionStartRequest creates a backend session for a trace.
type SessionStartRequest struct {
	Project     string         `json:"project"`
	SessionName string         `json:"session_name"`
	Source      string         `json:"source"`
	SessionID   string         `json:"session_id,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SessionStartResponse carries the backend-assigned session id.
type SessionStartResponse struct {
	SessionID string `json:"session_id"`
}

// Sessions manages trace sessions.
type Sessions interface {
	Start(ctx context.Context, req SessionStartRequest) (SessionStartResponse, error)
	Stop(ctx context.Context, sessionID string) error
}

// Events reads back ingested events. Writing events goes through the
// export pipeline, not this interface.
type Events interface {
	Get(ctx context.Context, eventID string) (*schema.Event, error)
	List(ctx context.Context, project string, limit int) ([]*schema.Event, error)
}

// Configuration is a named, versioned model configuration resource.
type Configuration struct {
	ID         string         `json:"id,omitempty"`
	Name       string         `json:"name"`
	Project    string         `json:"project"`
	Provider   string         `json:"provider,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Configurations manages model configuration resources.
type Configurations interface {
	Create(ctx context.Context, c Configuration) (Configuration, error)
	Get(ctx context.Context, id string) (Configuration, error)
	List(ctx context.Context, project string) ([]Configuration, error)
	Update(ctx context.Context, c Configuration) error
	Delete(ctx context.Context, id string) error
}

// Datapoint is a single example in a dataset.
type Datapoint struct {
	ID       string         `json:"id,omitempty"`
	Inputs   map[string]any `json:"inputs"`
	Outputs  map[string]any `json:"outputs,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Datapoints manages dataset examples.
type Datapoints interface {
	Create(ctx context.Context, datasetID string, d Datapoint) (Datapoint, error)
	Get(ctx context.Context, id string) (Datapoint, error)
	List(ctx context.Context, datasetID string) ([]Datapoint, error)
	Update(ctx context.Context, d Datapoint) error
	Delete(ctx context.Context, id string) error
}

// Dataset is a named collection of datapoints.
type Dataset struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Project string `json:"project"`
}

// Datasets manages datasets.
type Datasets interface {
	Create(ctx context.Context, d Dataset) (Dataset, error)
	Get(ctx context.Context, id string) (Dataset, error)
	List(ctx context.Context, project string) ([]Dataset, error)
	Delete(ctx context.Context, id string) error
}

// Metric is a computed or logged measurement definition.
type Metric struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Project string `json:"project"`
	Type    string `json:"type,omitempty"`
}

// Metrics manages metric definitions.
type Metrics interface {
	Create(ctx context.Context, m Metric) (Metric, error)
	List(ctx context.Context, project string) ([]Metric, error)
	Delete(ctx context.Context, id string) error
}

// Project is a HoneyHive project resource.
type Project struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Projects manages projects.
type Projects interface {
	Create(ctx context.Context, p Project) (Project, error)
	List(ctx context.Context) ([]Project, error)
}

// Tool is a registered tool definition.
type Tool struct {
	ID         string             `json:"id,omitempty"`
	Name       string             `json:"name"`
	Project    string             `json:"project"`
	Definition schema.FunctionDef `json:"definition"`
}

// Tools manages tool definitions.
type Tools interface {
	Create(ctx context.Context, t Tool) (Tool, error)
	List(ctx context.Context, project string) ([]Tool, error)
	Update(ctx context.Context, t Tool) error
	Delete(ctx context.Context, id string) error
}

// Evaluation is an experiment run over a dataset.
type Evaluation struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Project string `json:"project"`
	Dataset string `json:"dataset,omitempty"`
	Status  string `json:"status,omitempty"`
}

// Evaluations manages experiment runs.
type Evaluations interface {
	Create(ctx context.Context, e Evaluation) (Evaluation, error)
	Get(ctx context.Context, id string) (Evaluation, error)
	Update(ctx context.Context, e Evaluation) error
}
