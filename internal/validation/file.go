package validation

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

// FileConstraints defines validation rules for file uploads. A file passes
// when its MIME type starts with one of MimePrefixes or its extension is
// listed in AllowedExtensions.
type FileConstraints struct {
	MimePrefixes      []string
	AllowedExtensions map[string]bool
	MaxSize           int64
}

// AttachmentConstraints are the rules for files attached to a record.
var AttachmentConstraints = FileConstraints{
	MimePrefixes: []string{"image/"},
	AllowedExtensions: map[string]bool{
		".pdf":  true,
		".doc":  true,
		".docx": true,
		".txt":  true,
		".json": true,
		".js":   true,
		".html": true,
		".css":  true,
		".py":   true,
	},
	MaxSize: 10 << 20, // 10MB
}

// Accepted lists the accepted types in the form file inputs use.
func (c FileConstraints) Accepted() []string {
	out := make([]string, 0, len(c.MimePrefixes)+len(c.AllowedExtensions))
	for _, p := range c.MimePrefixes {
		out = append(out, p+"*")
	}
	for _, ext := range []string{".pdf", ".doc", ".docx", ".txt", ".json", ".js", ".html", ".css", ".py"} {
		if c.AllowedExtensions[ext] {
			out = append(out, ext)
		}
	}
	return out
}

// ValidateAttachment checks a file's declared name, type and size.
func ValidateAttachment(name, mimeType string, size int64, constraints FileConstraints) error {
	if size > constraints.MaxSize {
		maxMB := constraints.MaxSize / (1 << 20)
		return fmt.Errorf("file size exceeds %d MB limit", maxMB)
	}
	if size == 0 {
		return fmt.Errorf("file is empty")
	}

	for _, prefix := range constraints.MimePrefixes {
		if strings.HasPrefix(mimeType, prefix) {
			return nil
		}
	}
	ext := strings.ToLower(filepath.Ext(name))
	if constraints.AllowedExtensions[ext] {
		return nil
	}

	return fmt.Errorf("file type not supported. Supported types: %s", strings.Join(constraints.Accepted(), ", "))
}

// ValidateFile validates a multipart upload. The MIME type is sniffed from
// the content, so a renamed executable does not pass as an image.
func ValidateFile(header *multipart.FileHeader, constraints FileConstraints) (string, error) {
	file, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// http.DetectContentType reads at most 512 bytes
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	detectedType := http.DetectContentType(buffer[:n])

	if err := ValidateAttachment(header.Filename, detectedType, header.Size, constraints); err != nil {
		return "", err
	}
	return detectedType, nil
}
