package models

// MediaJob is the unit of work carried by the job queue.
type MediaJob struct {
	MediaID    string `json:"media_id"`
	SourcePath string `json:"source_path"`
}
