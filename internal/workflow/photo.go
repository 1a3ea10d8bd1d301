package workflow

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"provador/internal/domain"
)

// ParseDataURL decodes a browser-produced data URL
// (data:image/jpeg;base64,...) into an UploadedPhoto. Only base64 payloads
// are accepted since that is what FileReader.readAsDataURL emits.
func ParseDataURL(s string) (domain.UploadedPhoto, error) {
	s = strings.TrimSpace(s)
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return domain.UploadedPhoto{}, errors.New("photo: not a data url")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return domain.UploadedPhoto{}, errors.New("photo: malformed data url")
	}
	mime, encoding := meta, ""
	if idx := strings.LastIndex(meta, ";"); idx >= 0 {
		mime, encoding = meta[:idx], meta[idx+1:]
	}
	if !strings.EqualFold(encoding, "base64") {
		return domain.UploadedPhoto{}, errors.New("photo: data url is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return domain.UploadedPhoto{}, fmt.Errorf("photo: decode payload: %w", err)
	}
	return domain.UploadedPhoto{MIME: strings.ToLower(strings.TrimSpace(mime)), Data: data}, nil
}

// EncodeDataURL is the inverse of ParseDataURL: it rebuilds the wire form
// the try-on webhook expects for the client photo.
func EncodeDataURL(p domain.UploadedPhoto) string {
	return "data:" + p.MIME + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// validatePhoto applies the local pre-network checks: the payload must be an
// image and fit under the configured ceiling.
func validatePhoto(p domain.UploadedPhoto, maxBytes int64) error {
	if !strings.HasPrefix(p.MIME, "image/") {
		return fmt.Errorf("photo: mime %q: %w", p.MIME, domain.ErrNotAnImage)
	}
	if p.Size() == 0 {
		return fmt.Errorf("photo: empty payload: %w", domain.ErrNotAnImage)
	}
	if p.Size() > maxBytes {
		return fmt.Errorf("photo: %d bytes over %d ceiling: %w", p.Size(), maxBytes, domain.ErrPhotoTooLarge)
	}
	return nil
}
