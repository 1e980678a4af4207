package storage

import (
	"fmt"
	"strings"
	"time"
)

// ScanPathParams identify an archived scan image.
type ScanPathParams struct {
	Prefix    string
	UID       string
	ID        string
	CreatedAt time.Time
	MIMEType  string
}

var scanExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/heic": "heic",
	"image/heif": "heif",
	"image/gif":  "gif",
}

// BuildScanPath composes "[prefix/]scans/{uid}/{yyyy}/{mm}/{id}.{ext}".
func BuildScanPath(params ScanPathParams) (string, error) {
	uid, err := validateSegment("uid", params.UID)
	if err != nil {
		return "", err
	}
	id, err := validateSegment("id", params.ID)
	if err != nil {
		return "", err
	}
	if params.CreatedAt.IsZero() {
		return "", fmt.Errorf("storage: createdAt is required")
	}
	created := params.CreatedAt.UTC()
	path := fmt.Sprintf("scans/%s/%04d/%02d/%s.%s", uid, created.Year(), int(created.Month()), id, ExtensionFor(params.MIMEType))

	prefix := strings.Trim(strings.TrimSpace(params.Prefix), "/")
	if prefix == "" {
		return path, nil
	}
	if strings.Contains(prefix, "..") {
		return "", fmt.Errorf("storage: prefix contains invalid traversal sequence")
	}
	return prefix + "/" + path, nil
}

// ExtensionFor maps an image MIME type to a file extension, defaulting to "bin".
func ExtensionFor(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if ext, ok := scanExtensions[mimeType]; ok {
		return ext
	}
	return "bin"
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
