package models

import "time"

type MediaKind string

const (
	KindVideo MediaKind = "video"
	KindAudio MediaKind = "audio"
)

// IsValid reports whether k is one of the supported kinds.
func (k MediaKind) IsValid() bool {
	return k == KindVideo || k == KindAudio
}

type MediaStatus string

const (
	StatusUploading  MediaStatus = "uploading"
	StatusProcessing MediaStatus = "processing"
	StatusReady      MediaStatus = "ready"
	StatusFailed     MediaStatus = "failed"
)

// IsTerminal reports whether no further processing transitions follow s.
func (s MediaStatus) IsTerminal() bool {
	return s == StatusReady || s == StatusFailed
}

type MediaItem struct {
	ID               string      `json:"id" gorm:"column:id;type:varchar(36);primaryKey"`
	Filename         string      `json:"filename" gorm:"column:filename;type:varchar(255);not null"`
	OriginalFilename string      `json:"original_filename" gorm:"column:original_filename;type:varchar(255);not null"`
	Kind             MediaKind   `json:"media_type" gorm:"column:media_type;type:varchar(16);not null"`
	Status           MediaStatus `json:"status" gorm:"column:status;type:varchar(32);not null;index"`
	FileSize         int64       `json:"file_size" gorm:"column:file_size;type:bigint"`
	Duration         *float64    `json:"duration,omitempty" gorm:"column:duration;type:double precision"`
	Width            *int        `json:"width,omitempty" gorm:"column:width"`
	Height           *int        `json:"height,omitempty" gorm:"column:height"`
	Codec            *string     `json:"codec,omitempty" gorm:"column:codec;type:varchar(64)"`
	Bitrate          *int64      `json:"bitrate,omitempty" gorm:"column:bitrate;type:bigint"`
	ThumbnailPath    *string     `json:"thumbnail_path,omitempty" gorm:"column:thumbnail_path;type:text"`
	ErrorMessage     *string     `json:"error_message,omitempty" gorm:"column:error_message;type:text"`
	CreatedAt        time.Time   `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time   `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	Variants         []Variant   `json:"variants,omitempty" gorm:"foreignKey:MediaID;references:ID;constraint:OnDelete:CASCADE"`
}

func (MediaItem) TableName() string { return "media" }

// Variant is one encoded rendition of a MediaItem. Quality is unique per media.
type Variant struct {
	ID        string    `json:"id" gorm:"column:id;type:varchar(36);primaryKey"`
	MediaID   string    `json:"media_id" gorm:"column:media_id;type:varchar(36);not null;uniqueIndex:idx_variants_media_quality"`
	Quality   string    `json:"quality" gorm:"column:quality;type:varchar(32);not null;uniqueIndex:idx_variants_media_quality"`
	Path      string    `json:"path" gorm:"column:path;type:text;not null"`
	Bitrate   int       `json:"bitrate" gorm:"column:bitrate;not null"`
	FileSize  int64     `json:"file_size" gorm:"column:file_size;type:bigint;not null"`
	Width     *int      `json:"width,omitempty" gorm:"column:width"`
	Height    *int      `json:"height,omitempty" gorm:"column:height"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (Variant) TableName() string { return "media_variants" }

// StatusEvent is pushed on the notification channel whenever a media item's
// status changes.
type StatusEvent struct {
	MediaID   string      `json:"media_id"`
	Status    MediaStatus `json:"status"`
	Message   string      `json:"message,omitempty"`
	Variants  int         `json:"variants,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
