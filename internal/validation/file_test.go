package validation

import (
	"bytes"
	"mime/multipart"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAttachment(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		mimeType string
		size     int64
		wantErr  string
	}{
		{"image by type", "photo", "image/png", 100, ""},
		{"pdf by extension", "cv.PDF", "application/octet-stream", 100, ""},
		{"python source", "main.py", "text/plain", 10, ""},
		{"too large", "big.png", "image/png", 10<<20 + 1, "file size exceeds 10 MB limit"},
		{"exactly the cap", "big.png", "image/png", 10 << 20, ""},
		{"empty", "a.txt", "text/plain", 0, "file is empty"},
		{"unsupported", "run.exe", "application/x-msdownload", 10, "file type not supported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAttachment(tt.file, tt.mimeType, tt.size, AttachmentConstraints)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func fileHeader(t *testing.T, name string, content []byte) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	form, err := multipart.NewReader(&buf, mw.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File["file"][0]
}

func TestValidateFileSniffsContent(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	mimeType, err := ValidateFile(fileHeader(t, "photo", png), AttachmentConstraints)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)

	mimeType, err = ValidateFile(fileHeader(t, "notes.txt", []byte("buy milk")), AttachmentConstraints)
	require.NoError(t, err)
	assert.Equal(t, "text/plain; charset=utf-8", mimeType)

	// A text file renamed to look like an image is judged by its bytes.
	_, err = ValidateFile(fileHeader(t, "photo.png", []byte("MZ not really an image")), AttachmentConstraints)
	assert.ErrorContains(t, err, "file type not supported")
}
