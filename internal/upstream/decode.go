package upstream

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/gjson"

	"pagecache/internal/core"
)

// readBody decodes the content encoding and enforces maxSize on the decoded bytes.
func readBody(resp *http.Response, maxSize int64) ([]byte, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	case "br":
		r = brotli.NewReader(resp.Body)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}

	raw, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if int64(len(raw)) > maxSize {
		return nil, fmt.Errorf("response body too large (exceeds %d bytes)", maxSize)
	}
	return raw, nil
}

// decodeItems accepts either a JSON array of items or an object carrying the
// array under "items" or "data" and optionally a "total". The returned total is
// -1 when the body has none.
func decodeItems[T any](resource string, body []byte, required []string) ([]T, int, error) {
	if !gjson.ValidBytes(body) {
		return nil, -1, core.NewMalformedError(resource, "response is not valid JSON", nil)
	}
	root := gjson.ParseBytes(body)

	total := -1
	items := root
	if root.IsObject() {
		items = root.Get("items")
		if !items.Exists() {
			items = root.Get("data")
		}
		if t := root.Get("total"); t.Type == gjson.Number && t.Int() >= 0 {
			total = int(t.Int())
		}
	}
	if !items.IsArray() {
		return nil, -1, core.NewMalformedError(resource, "response carries no item array", nil)
	}

	if len(required) > 0 {
		var invalid error
		idx := 0
		items.ForEach(func(_, item gjson.Result) bool {
			if !item.IsObject() {
				invalid = fmt.Errorf("item %d is not an object", idx)
				return false
			}
			for _, field := range required {
				if !item.Get(field).Exists() {
					invalid = fmt.Errorf("item %d is missing field %q", idx, field)
					return false
				}
			}
			idx++
			return true
		})
		if invalid != nil {
			return nil, -1, core.NewMalformedError(resource, invalid.Error(), nil)
		}
	}

	out := make([]T, 0, len(items.Array()))
	if err := json.Unmarshal([]byte(items.Raw), &out); err != nil {
		return nil, -1, core.NewMalformedError(resource, "items do not match the expected shape", err)
	}
	return out, total, nil
}
