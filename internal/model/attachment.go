package model

import (
	"time"
)

// MaxAttachmentSize caps a single attachment at 10MB.
const MaxAttachmentSize = 10 << 20

// Attachment belongs to exactly one record. Either Data (a base64 data URL)
// or StorageKey (an object in blob storage) holds the content.
type Attachment struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	MimeType    string    `json:"type"`
	Size        int64     `json:"size"`
	Data        string    `json:"data,omitempty"`
	StorageKey  string    `json:"storageKey,omitempty"`
	URL         string    `json:"url,omitempty"`
	ProcessedAt time.Time `json:"processedAt"`
}

func (a *Attachment) IsImage() bool {
	return len(a.MimeType) > 6 && a.MimeType[:6] == "image/"
}

func (a *Attachment) Offloaded() bool {
	return a.StorageKey != ""
}
