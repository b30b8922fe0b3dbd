package splists

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/elnormous/contenttype"
	"github.com/tidwall/gjson"
)

// coerce turns a terminal response into its JSON payload. It returns nil
// (undefined) for 204, a zero Content-Length, an empty body, a missing or
// non-JSON content type, or a body that does not parse. A top-level "d"
// envelope is removed.
func coerce(status int, header http.Header, body []byte) json.RawMessage {
	if status == http.StatusNoContent {
		return nil
	}
	if cl := strings.TrimSpace(header.Get("Content-Length")); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n == 0 {
			return nil
		}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if !isJSONContentType(header.Get("Content-Type")) {
		return nil
	}
	if !json.Valid(body) {
		return nil
	}
	return unwrapEnvelope(body)
}

func isJSONContentType(value string) bool {
	if strings.TrimSpace(value) == "" {
		return false
	}
	mt := contenttype.NewMediaType(value)
	if !strings.EqualFold(mt.Type, "application") {
		return false
	}
	subtype := strings.ToLower(mt.Subtype)
	return subtype == "json" || strings.HasSuffix(subtype, "+json")
}

// unwrapEnvelope returns the value under a top-level "d" key of a JSON object,
// or body unchanged.
func unwrapEnvelope(body []byte) json.RawMessage {
	parsed := gjson.ParseBytes(body)
	if parsed.IsObject() {
		if d := parsed.Get("d"); d.Exists() {
			return json.RawMessage(d.Raw)
		}
	}
	return json.RawMessage(bytes.TrimSpace(body))
}

// errorMessage extracts the server-supplied message from an error body:
// error.message.value (verbose and minimal OData), odata.error.message.value,
// a plain error.message string, or the raw text.
func errorMessage(body []byte) string {
	if json.Valid(body) {
		parsed := gjson.ParseBytes(body)
		for _, path := range []string{
			"error.message.value",
			`odata\.error.message.value`,
			"error.message",
			"error_description",
			"message",
		} {
			if r := parsed.Get(path); r.Exists() && r.Type == gjson.String && r.Str != "" {
				return r.Str
			}
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 2048 {
		text = text[:2048]
	}
	return text
}
