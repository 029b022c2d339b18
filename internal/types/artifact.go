// Package types provides the shared data model for outfit generation and editing.
package types

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DefaultMIMEType is assumed when a payload arrives without a content type.
const DefaultMIMEType = "image/png"

// Artifact is an immutable image payload tagged with its content type.
// The core never inspects Data; it is passed through to collaborators as-is.
type Artifact struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mime_type"`
}

// NewArtifact copies data so that later writes by the caller cannot alter the artifact.
func NewArtifact(data []byte, mimeType string) Artifact {
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return Artifact{Data: buf, MIMEType: mimeType}
}

// IsEmpty reports whether the artifact carries no payload.
func (a Artifact) IsEmpty() bool {
	return len(a.Data) == 0
}

// Size returns the payload length in bytes.
func (a Artifact) Size() int {
	return len(a.Data)
}

// Extension returns a file extension for the artifact's content type.
func (a Artifact) Extension() string {
	switch a.MIMEType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// DataURL encodes the artifact as a data URL (data:image/png;base64,...).
func (a Artifact) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", a.MIMEType, base64.StdEncoding.EncodeToString(a.Data))
}

// ParseArtifact decodes either a data URL or a bare base64 string.
// fallbackMIME is used when the input carries no content type.
func ParseArtifact(encoded, fallbackMIME string) (Artifact, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return Artifact{}, fmt.Errorf("empty image payload")
	}

	mimeType := fallbackMIME
	if strings.HasPrefix(encoded, "data:") {
		header, payload, ok := strings.Cut(encoded, ",")
		if !ok {
			return Artifact{}, fmt.Errorf("malformed data URL")
		}
		header = strings.TrimPrefix(header, "data:")
		if !strings.HasSuffix(header, ";base64") {
			return Artifact{}, fmt.Errorf("data URL is not base64 encoded")
		}
		if mt := strings.TrimSuffix(header, ";base64"); mt != "" {
			mimeType = mt
		}
		encoded = payload
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to decode base64 image: %w", err)
	}
	if len(data) == 0 {
		return Artifact{}, fmt.Errorf("empty image payload")
	}
	return NewArtifact(data, mimeType), nil
}
