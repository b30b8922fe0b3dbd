// Package batchwire encodes OData $batch requests and decodes multipart/mixed
// batch responses.
package batchwire

import (
	"bytes"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const crlf = "\r\n"

// Part is one sub-request of a batch.
type Part struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// NewBoundary returns a fresh request boundary of the form batch_<uuid>.
func NewBoundary() string {
	return "batch_" + uuid.NewString()
}

// ContentType returns the Content-Type header value for a batch using boundary.
func ContentType(boundary string) string {
	return "multipart/mixed; boundary=" + boundary
}

// ResponseBoundaryFor reconstructs the boundary a server conventionally answers
// with for a request boundary: batch_<id> becomes batchresponse_<id>.
func ResponseBoundaryFor(requestBoundary string) string {
	if id, ok := strings.CutPrefix(requestBoundary, "batch_"); ok {
		return "batchresponse_" + id
	}
	return ""
}

// Encode renders parts as a multipart/mixed body. Every part is framed as an
// application/http section carrying the embedded request line, its headers and
// its body.
func Encode(boundary string, parts []Part) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.WriteString("--" + boundary + crlf)
		buf.WriteString("Content-Type: application/http" + crlf)
		buf.WriteString("Content-Transfer-Encoding: binary" + crlf)
		buf.WriteString(crlf)

		buf.WriteString(p.Method + " " + p.URL + " HTTP/1.1" + crlf)
		writeHeaders(&buf, p.Header)
		buf.WriteString(crlf)
		if len(p.Body) > 0 {
			buf.Write(p.Body)
			buf.WriteString(crlf)
		}
		buf.WriteString(crlf)
	}
	buf.WriteString("--" + boundary + "--" + crlf)
	return buf.Bytes()
}

// writeHeaders emits headers in a stable order so encoded batches are
// reproducible.
func writeHeaders(buf *bytes.Buffer, h http.Header) {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			buf.WriteString(k + ": " + v + crlf)
		}
	}
}
