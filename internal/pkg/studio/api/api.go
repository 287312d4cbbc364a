package api

import (
	"context"
	"io"
)

// Form parameter names of the studio start call
const (
	PrmFile      = "file"
	PrmURL       = "url"
	PrmOwner     = "ownerId"
	PrmContainer = "containerId"
	PrmTitle     = "title"
)

// StartInput keeps structure for the start processing method.
// Either File or URL is set, never both.
type StartInput struct {
	Owner       string
	ContainerID string
	Title       string
	FileName    string
	File        io.Reader
	FileSize    int64
	URL         string
}

// JobInfo is the backend's view of one operation, used by recovery
type JobInfo struct {
	ID          string `json:"jobId"`
	OwnerID     string `json:"ownerId"`
	SourceName  string `json:"sourceName"`
	ContainerID string `json:"containerId,omitempty"`
	Status      string `json:"status"`
	Stage       string `json:"stage"`
	Progress    int    `json:"progressPercent"`
	Error       string `json:"errorMessage,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

// Artifact is the finished content object produced by a completed job
type Artifact struct {
	ID          string `json:"id"`
	OwnerID     string `json:"ownerId"`
	ContainerID string `json:"containerId,omitempty"`
	Title       string `json:"title,omitempty"`
	URL         string `json:"url"`
}

// Studio communicates with the processing backend
type Studio interface {
	Start(ctx context.Context, in *StartInput) (string, error)
	GetArtifact(ctx context.Context, opID string) (*Artifact, error)
	ListActive(ctx context.Context, owner string) ([]JobInfo, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
}
