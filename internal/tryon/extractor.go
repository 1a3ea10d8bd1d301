// Package tryon extracts the generated image reference from the try-on
// webhook response. Like the catalog payload, the response shape is not
// contractual; different workflow revisions name the result field differently.
package tryon

import (
	"encoding/json"
	"fmt"
	"strings"

	"provador/internal/domain"
)

// resultKeys are tried in priority order; the first non-empty string wins.
var resultKeys = []string{
	"resultado_url",
	"imagem_final",
	"imagem_gerada",
	"imagem",
	"image",
	"url",
}

// ExtractImage returns the single generated image reference from an
// arbitrary webhook payload. When no recognized field carries a non-empty
// string, the error wraps domain.ErrResultNotFound, a content failure the
// caller must keep distinct from a transport failure.
func ExtractImage(raw json.RawMessage) (string, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("tryon: malformed payload: %v: %w", err, domain.ErrResultNotFound)
	}

	// Singleton-array unwrap, same tolerance as the catalog side.
	if arr, ok := value.([]any); ok && len(arr) > 0 {
		value = arr[0]
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return "", fmt.Errorf("tryon: payload is not an object: %w", domain.ErrResultNotFound)
	}

	for _, key := range resultKeys {
		if s, ok := obj[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s, nil
			}
		}
	}
	return "", fmt.Errorf("tryon: no image field in payload: %w", domain.ErrResultNotFound)
}
