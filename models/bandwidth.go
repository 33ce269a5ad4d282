package models

import "time"

// BandwidthRecord is one observed segment delivery parsed from the access log.
type BandwidthRecord struct {
	ID          uint64    `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	IPAddress   string    `json:"ip_address" gorm:"column:ip_address;type:varchar(64);not null;index"`
	Timestamp   time.Time `json:"timestamp" gorm:"column:timestamp;not null;index"`
	RequestURI  string    `json:"request_uri" gorm:"column:request_uri;type:text;not null"`
	BytesSent   int64     `json:"bytes_sent" gorm:"column:bytes_sent;type:bigint;not null"`
	StatusCode  int       `json:"status_code" gorm:"column:status_code;not null"`
	RequestTime *float64  `json:"request_time,omitempty" gorm:"column:request_time"`
	MediaID     *string   `json:"media_id,omitempty" gorm:"column:media_id;type:varchar(64);index"`
	SessionID   *string   `json:"session_id,omitempty" gorm:"column:session_id;type:varchar(128)"`
}

func (BandwidthRecord) TableName() string { return "bandwidth_logs" }

// Hour returns the record timestamp truncated to the UTC hour.
func (r BandwidthRecord) Hour() time.Time {
	return r.Timestamp.UTC().Truncate(time.Hour)
}

// BandwidthBucket is the hourly aggregate for one (media, client, session) key.
type BandwidthBucket struct {
	ID           uint64    `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	MediaID      *string   `json:"media_id,omitempty" gorm:"column:media_id;type:varchar(64);index:idx_bandwidth_bucket_key"`
	IPAddress    string    `json:"ip_address" gorm:"column:ip_address;type:varchar(64);not null;index:idx_bandwidth_bucket_key"`
	SessionID    *string   `json:"session_id,omitempty" gorm:"column:session_id;type:varchar(128)"`
	Hour         time.Time `json:"hour" gorm:"column:hour;not null;index:idx_bandwidth_bucket_key;index"`
	TotalBytes   int64     `json:"total_bytes" gorm:"column:total_bytes;type:bigint;not null"`
	RequestCount int64     `json:"request_count" gorm:"column:request_count;type:bigint;not null"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (BandwidthBucket) TableName() string { return "bandwidth_stats" }

// IngestCursor persists how far a named log has been consumed.
type IngestCursor struct {
	Name      string    `gorm:"column:name;type:varchar(255);primaryKey"`
	Offset    int64     `gorm:"column:byte_offset;type:bigint;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (IngestCursor) TableName() string { return "bandwidth_cursors" }

// ClientUsage is a summary row for one client address.
type ClientUsage struct {
	IPAddress    string `json:"ip" gorm:"column:ip_address"`
	TotalBytes   int64  `json:"bandwidth_bytes" gorm:"column:total_bytes"`
	RequestCount int64  `json:"request_count" gorm:"column:request_count"`
}

// MediaUsage is a summary row for one media item.
type MediaUsage struct {
	MediaID      string `json:"media_id" gorm:"column:media_id"`
	TotalBytes   int64  `json:"bandwidth_bytes" gorm:"column:total_bytes"`
	RequestCount int64  `json:"request_count" gorm:"column:request_count"`
}

// BandwidthSummary is the reporting view over buckets since a cutoff.
type BandwidthSummary struct {
	Since      time.Time     `json:"since"`
	TotalBytes int64         `json:"total_bandwidth_bytes"`
	TopClients []ClientUsage `json:"bandwidth_by_ip"`
	TopMedia   []MediaUsage  `json:"bandwidth_by_media"`
}
