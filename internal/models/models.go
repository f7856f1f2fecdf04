package models

import "time"

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusProcessing  JobStatus = "processing"
	StatusDownloading JobStatus = "downloading"
	StatusConverting  JobStatus = "converting"
	StatusCompleted   JobStatus = "completed"
	StatusError       JobStatus = "error"
)

// Terminal reports whether a status is final. A failed job is resubmitted
// under a new ID; terminal records are never re-entered.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Active reports whether a job is currently being worked on.
func (s JobStatus) Active() bool {
	return s == StatusProcessing || s == StatusDownloading || s == StatusConverting
}

// ConversionKind distinguishes what a local conversion job produces.
type ConversionKind string

const (
	KindAudio ConversionKind = "audio"
	KindVideo ConversionKind = "video"
	KindImage ConversionKind = "image"
	KindPDF   ConversionKind = "pdf"
)

// TrackMetadata carries optional tags written into converted audio files.
type TrackMetadata struct {
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
}

// ConversionJob stores metadata and runtime state for a local-file job
// (audio/video transcode, image transform, PDF operation).
type ConversionJob struct {
	ID            string         `json:"id"`
	Kind          ConversionKind `json:"kind"`
	InputFileName string         `json:"input_file_name"`
	InputPath     string         `json:"input_path"`
	OutputPath    string         `json:"output_path,omitempty"`
	OutputName    string         `json:"output_name,omitempty"`
	Format        string         `json:"format"`
	Bitrate       int            `json:"bitrate,omitempty"`
	TrimStart     float64        `json:"trim_start,omitempty"`
	TrimEnd       float64        `json:"trim_end,omitempty"`
	Metadata      TrackMetadata  `json:"metadata,omitzero"`
	Status        JobStatus      `json:"status"`
	Progress      int            `json:"progress"`
	Error         string         `json:"error,omitempty"`
	ErrorKind     string         `json:"error_kind,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	CompletedAt   time.Time      `json:"completed_at,omitzero"`
}

// JobStatus implements registry.Job.
func (j ConversionJob) JobStatus() JobStatus { return j.Status }

// DownloadMode selects what a remote download job should produce.
type DownloadMode string

const (
	ModeAudio DownloadMode = "audio"
	ModeVideo DownloadMode = "video"
)

// DownloadJob stores metadata and runtime state for a remote-URL job. The
// composite Progress spans both sub-phases; DownloadProgress and
// ConvertProgress expose each phase's raw percentage.
type DownloadJob struct {
	ID               string       `json:"id"`
	SourceURL        string       `json:"source_url"`
	Platform         string       `json:"platform"`
	Mode             DownloadMode `json:"mode"`
	Resolution       int          `json:"resolution,omitempty"`
	AudioFormat      string       `json:"audio_format,omitempty"`
	AudioBitrate     int          `json:"audio_bitrate,omitempty"`
	OutputPath       string       `json:"output_path,omitempty"`
	OutputName       string       `json:"output_name,omitempty"`
	Status           JobStatus    `json:"status"`
	Progress         int          `json:"progress"`
	DownloadProgress int          `json:"download_progress"`
	ConvertProgress  int          `json:"convert_progress"`
	Error            string       `json:"error,omitempty"`
	ErrorKind        string       `json:"error_kind,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	CompletedAt      time.Time    `json:"completed_at,omitzero"`
}

// JobStatus implements registry.Job.
func (j DownloadJob) JobStatus() JobStatus { return j.Status }

// EventType classifies a ProgressEvent.
type EventType string

const (
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
)

// ProgressEvent is pushed to every connected WebSocket client. Clients filter
// by job ID on their side.
type ProgressEvent struct {
	Type             EventType `json:"type"`
	JobID            string    `json:"job_id"`
	Kind             string    `json:"kind,omitempty"`
	Stage            string    `json:"stage,omitempty"`
	Status           JobStatus `json:"status"`
	Progress         int       `json:"progress"`
	DownloadProgress int       `json:"download_progress,omitempty"`
	ConvertProgress  int       `json:"convert_progress,omitempty"`
	Message          string    `json:"message,omitempty"`
	DownloadURL      string    `json:"download_url,omitempty"`
	Error            string    `json:"error,omitempty"`
}
