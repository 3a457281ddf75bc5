package domain

import (
	"time"

	"github.com/google/uuid"
)

// MediaType enumerates artifact categories.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
	MediaTypeAudio MediaType = "audio"
)

// Media represents one generated artifact belonging to a completed job.
type Media struct {
	ID            uuid.UUID
	JobID         uuid.UUID
	Type          MediaType
	StoragePath   string
	URL           string
	MimeType      string
	FileExtension string
	Width         int
	Height        int
	FileSizeBytes int64
	CreatedAt     time.Time
}
