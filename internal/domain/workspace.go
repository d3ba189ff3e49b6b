package domain

import "time"

// Project is the editing workspace a conversation operates on.
type Project struct {
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// AssetKind is the media type of an asset.
type AssetKind string

const (
	AssetKindImage AssetKind = "image"
	AssetKindVideo AssetKind = "video"
	AssetKindAudio AssetKind = "audio"
)

// AssetStatus tracks whether an asset's media is available.
type AssetStatus string

const (
	AssetStatusProcessing AssetStatus = "processing"
	AssetStatusReady      AssetStatus = "ready"
	AssetStatusFailed     AssetStatus = "failed"
)

// Asset is a media item that belongs to a project.
type Asset struct {
	AssetID   string      `json:"asset_id"`
	ProjectID string      `json:"project_id"`
	Kind      AssetKind   `json:"kind"`
	Name      string      `json:"name"`
	URI       string      `json:"uri,omitempty"`
	Status    AssetStatus `json:"status"`
	Prompt    string      `json:"prompt,omitempty"`
	JobID     string      `json:"job_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Clip places an asset on the project timeline.
type Clip struct {
	ClipID     string    `json:"clip_id"`
	ProjectID  string    `json:"project_id"`
	AssetID    string    `json:"asset_id"`
	Track      int       `json:"track"`
	StartMs    int64     `json:"start_ms"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// GenerationJob is an asynchronous media generation request.
type GenerationJob struct {
	JobID     string    `json:"job_id"`
	ProjectID string    `json:"project_id"`
	Operation string    `json:"operation"`
	Params    string    `json:"params"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
