package service

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/templui/tracker/internal/model"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memBlobs) Save(_ context.Context, key, _ string, body io.Reader) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = b
	return nil
}

func (m *memBlobs) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memBlobs) URL(_ context.Context, key string) (string, error) {
	return "https://blobs.example.com/" + key, nil
}

type memRecords struct {
	rec *model.Record
}

func (m *memRecords) Get(context.Context, string) (*model.Record, error) {
	return m.rec.Clone(), nil
}

func (m *memRecords) Update(_ context.Context, _ string, patch model.RecordPatch) error {
	patch.Apply(m.rec, time.Now())
	return nil
}

func TestDataURLRoundTrip(t *testing.T) {
	url := EncodeDataURL("text/plain", []byte("hello"))
	assert.Equal(t, "data:text/plain;base64,aGVsbG8=", url)

	mimeType, content, err := DecodeDataURL(url)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", mimeType)
	assert.Equal(t, "hello", string(content))

	for _, bad := range []string{"hello", "data:text/plain", "data:text/plain,hello", "data:text/plain;base64,***"} {
		_, _, err := DecodeDataURL(bad)
		assert.ErrorIs(t, err, ErrInvalidDataURL, bad)
	}
}

func TestProcessInline(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := NewAttachmentService(nil, clock)

	a, err := svc.Process(context.Background(), "p1", "r1", Upload{Name: "notes.txt", MimeType: "text/plain", Content: []byte("hi")})
	require.NoError(t, err)
	assert.Equal(t, "data:text/plain;base64,aGk=", a.Data)
	assert.Equal(t, int64(2), a.Size)
	assert.Equal(t, clock.Now(), a.ProcessedAt)
	assert.False(t, a.Offloaded())

	_, err = svc.Process(context.Background(), "p1", "r1", Upload{Name: "run.exe", MimeType: "application/x-msdownload", Content: []byte("MZ")})
	assert.ErrorContains(t, err, `error processing file "run.exe"`)
}

func TestProcessOffloaded(t *testing.T) {
	blobs := &memBlobs{}
	svc := NewAttachmentService(blobs, clockwork.NewFakeClock())

	a, err := svc.Process(context.Background(), "p1", "r1", Upload{Name: "Scan.PDF", MimeType: "application/pdf", Content: []byte("%PDF")})
	require.NoError(t, err)
	assert.Empty(t, a.Data)
	assert.True(t, strings.HasPrefix(a.StorageKey, "principals/p1/records/r1/"))
	assert.True(t, strings.HasSuffix(a.StorageKey, ".pdf"))
	assert.Equal(t, []byte("%PDF"), blobs.objects[a.StorageKey])

	list := []model.Attachment{*a}
	svc.Resolve(context.Background(), list)
	assert.Equal(t, "https://blobs.example.com/"+a.StorageKey, list[0].URL)

	svc.Remove(context.Background(), list)
	assert.Empty(t, blobs.objects)
}

func TestAttachAllOrNothing(t *testing.T) {
	blobs := &memBlobs{}
	svc := NewAttachmentService(blobs, clockwork.NewFakeClock())
	records := &memRecords{rec: &model.Record{ID: "r1", Attachments: []model.Attachment{{ID: "old"}}}}

	_, err := svc.Attach(context.Background(), records, "p1", "r1", []Upload{
		{Name: "a.png", MimeType: "image/png", Content: []byte("png")},
		{Name: "b.exe", MimeType: "application/octet-stream", Content: []byte("MZ")},
	})
	require.Error(t, err)
	assert.Len(t, records.rec.Attachments, 1)
	assert.Empty(t, blobs.objects, "stored blobs are cleaned up")

	added, err := svc.Attach(context.Background(), records, "p1", "r1", []Upload{
		{Name: "a.png", MimeType: "image/png", Content: []byte("png")},
	})
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Len(t, records.rec.Attachments, 2)
	assert.Equal(t, "old", records.rec.Attachments[0].ID)
}
