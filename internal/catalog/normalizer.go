// Package catalog maps the loosely-structured JSON returned by the product
// webhook into strict domain.Product records. The upstream is not under any
// schema contract: it wraps the payload differently between deployments and
// names fields in either Portuguese or English.
package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"provador/internal/domain"
)

// Field fallback chains, tried in order. Keeping these declarative is the
// whole point: every recognized upstream variant lives in one place.
var (
	listKeys      = []string{"oculos", "produtos", "products", "items", "data"}
	nameKeys      = []string{"nome", "name", "title"}
	priceKeys     = []string{"preco", "price", "valor"}
	imageKeys     = []string{"imagem", "image", "thumbnail", "img"}
	thumbnailKeys = []string{"thumbnail", "imagem", "image", "img"}
	brandKeys     = []string{"marca", "brand"}
	urlKeys       = []string{"url", "link"}
)

// Normalize extracts an ordered product list from an arbitrary webhook
// payload. Every returned Product is fully populated; defaults are applied
// here and nowhere else. An unrecognized shape or an empty listing yields a
// nil slice and an error wrapping domain.ErrEmptyCatalog; the caller decides
// whether an empty catalog is a failure or a valid state.
func Normalize(raw json.RawMessage) ([]domain.Product, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("catalog: malformed payload: %v: %w", err, domain.ErrEmptyCatalog)
	}

	items := locateList(value)
	if len(items) == 0 {
		return nil, fmt.Errorf("catalog: no product list in payload: %w", domain.ErrEmptyCatalog)
	}

	products := make([]domain.Product, 0, len(items))
	for i, item := range items {
		obj, _ := item.(map[string]any)
		products = append(products, buildProduct(obj, i))
	}
	return products, nil
}

// locateList finds the raw product array inside the payload. The upstream
// sometimes wraps the real object in a singleton array; it descends into the
// first element only when that element is a wrapper object rather than a
// product record, so a bare array of products is used as-is.
func locateList(value any) []any {
	if arr, ok := value.([]any); ok {
		if len(arr) == 0 {
			return nil
		}
		if first, ok := arr[0].(map[string]any); ok && hasListKey(first) {
			value = first
		} else {
			return arr
		}
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	for _, key := range listKeys {
		if arr, ok := obj[key].([]any); ok {
			return arr
		}
	}
	return nil
}

func hasListKey(obj map[string]any) bool {
	for _, key := range listKeys {
		if _, ok := obj[key]; ok {
			return true
		}
	}
	return false
}

func buildProduct(obj map[string]any, index int) domain.Product {
	p := domain.Product{
		ID:          stringField(obj, []string{"id"}, strconv.Itoa(index)),
		Name:        stringField(obj, nameKeys, fmt.Sprintf("Item %d", index+1)),
		ImageRef:    stringField(obj, imageKeys, ""),
		Price:       normalizePrice(stringField(obj, priceKeys, "")),
		Brand:       stringField(obj, brandKeys, domain.DefaultBrand),
		PurchaseURL: stringField(obj, urlKeys, ""),
	}
	p.ThumbnailRef = stringField(obj, thumbnailKeys, p.ImageRef)
	return p
}

// stringField resolves the first present, non-empty key in the chain.
// Upstream records carry numbers for ids and sometimes prices, so scalar
// values are coerced to their decimal string form.
func stringField(obj map[string]any, keys []string, fallback string) string {
	for _, key := range keys {
		v, ok := obj[key]
		if !ok {
			continue
		}
		if s := coerceString(v); s != "" {
			return s
		}
	}
	return fallback
}

func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// normalizePrice replaces absent, zero or malformed prices with the fixed
// default so the storefront never renders a free product.
func normalizePrice(price string) string {
	switch price {
	case "", "0", "0.00":
		return domain.DefaultPrice
	}
	return price
}
