package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/templui/tracker/internal/model"
	"github.com/templui/tracker/internal/storage"
	"github.com/templui/tracker/internal/validation"
)

var ErrInvalidDataURL = errors.New("invalid data URL")

// Upload is one file as received from the client.
type Upload struct {
	Name     string
	MimeType string
	Content  []byte
}

// RecordStore is the part of the journal facade attachments need.
type RecordStore interface {
	Get(ctx context.Context, id string) (*model.Record, error)
	Update(ctx context.Context, id string, patch model.RecordPatch) error
}

// AttachmentService turns uploads into record attachments. Content stays
// inline as a data URL unless blob storage is configured.
type AttachmentService struct {
	storage storage.Storage
	clock   clockwork.Clock
}

func NewAttachmentService(s storage.Storage, clock clockwork.Clock) *AttachmentService {
	return &AttachmentService{storage: s, clock: clock}
}

// Process validates an upload and stores its content.
func (s *AttachmentService) Process(ctx context.Context, principalID, recordID string, up Upload) (*model.Attachment, error) {
	if err := validation.ValidateAttachment(up.Name, up.MimeType, int64(len(up.Content)), validation.AttachmentConstraints); err != nil {
		return nil, &model.ValidationError{Problems: []string{fmt.Sprintf("error processing file %q: %v", up.Name, err)}}
	}

	a := &model.Attachment{
		ID:          uuid.New().String(),
		Name:        up.Name,
		MimeType:    up.MimeType,
		Size:        int64(len(up.Content)),
		ProcessedAt: s.clock.Now().UTC(),
	}

	if s.storage == nil {
		a.Data = EncodeDataURL(up.MimeType, up.Content)
		return a, nil
	}

	key := fmt.Sprintf("principals/%s/records/%s/%s%s", principalID, recordID, a.ID, strings.ToLower(filepath.Ext(up.Name)))
	if err := s.storage.Save(ctx, key, up.MimeType, bytes.NewReader(up.Content)); err != nil {
		return nil, fmt.Errorf("failed to store file %q: %w", up.Name, err)
	}
	a.StorageKey = key
	return a, nil
}

// Attach processes every upload and appends the results to the record.
// Nothing is attached when any upload is rejected.
func (s *AttachmentService) Attach(ctx context.Context, records RecordStore, principalID, recordID string, uploads []Upload) ([]model.Attachment, error) {
	rec, err := records.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}

	processed := make([]model.Attachment, 0, len(uploads))
	for _, up := range uploads {
		a, err := s.Process(ctx, principalID, recordID, up)
		if err != nil {
			s.Remove(ctx, processed)
			return nil, err
		}
		processed = append(processed, *a)
	}

	all := append(append([]model.Attachment(nil), rec.Attachments...), processed...)
	if err := records.Update(ctx, recordID, model.RecordPatch{Attachments: &all}); err != nil {
		s.Remove(ctx, processed)
		return nil, err
	}

	slog.Info("attachments added", "principal_id", principalID, "record_id", recordID, "count", len(processed))
	return processed, nil
}

// Resolve fills in download links for offloaded attachments.
func (s *AttachmentService) Resolve(ctx context.Context, attachments []model.Attachment) {
	if s.storage == nil {
		return
	}
	for i := range attachments {
		if !attachments[i].Offloaded() {
			continue
		}
		url, err := s.storage.URL(ctx, attachments[i].StorageKey)
		if err != nil {
			slog.Warn("failed to presign attachment", "error", err, "key", attachments[i].StorageKey)
			continue
		}
		attachments[i].URL = url
	}
}

// Remove deletes offloaded blobs. Failures are logged; the blob may
// already be gone.
func (s *AttachmentService) Remove(ctx context.Context, attachments []model.Attachment) {
	if s.storage == nil {
		return
	}
	for _, a := range attachments {
		if !a.Offloaded() {
			continue
		}
		if err := s.storage.Delete(ctx, a.StorageKey); err != nil {
			slog.Warn("failed to delete attachment from storage", "error", err, "key", a.StorageKey)
		}
	}
}

// EncodeDataURL renders content as a base64 data URL.
func EncodeDataURL(mimeType string, content []byte) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(content)
}

// DecodeDataURL parses a base64 data URL.
func DecodeDataURL(dataURL string) (mimeType string, content []byte, err error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	mimeType, ok = strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURL)
	}
	content, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return mimeType, content, nil
}
