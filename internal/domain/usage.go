package domain

import "time"

type UsageLog struct {
	RecordID        string
	Field           string
	Renditions      int
	PixelsProcessed int64
	BytesWritten    int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
