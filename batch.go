package splists

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/elnormous/contenttype"

	"github.com/yasutakesougo/audit-management-system-mvp-sub007/internal/batchwire"
)

const batchPath = "/_api/$batch"

// Batch sends ops as one multipart $batch request and returns exactly one
// result per op, in order. Failed legs are reported through BatchResult.OK;
// an error is returned only when the batch as a whole could not be sent or
// its reply could not be decoded, in which case the results are still
// len(ops) long.
//
// An empty ops slice returns immediately without acquiring a token.
func (c *Client) Batch(ctx context.Context, ops []BatchOperation) ([]BatchResult, error) {
	if len(ops) == 0 {
		return []BatchResult{}, nil
	}

	parts, err := c.batchParts(ops)
	if err != nil {
		return nil, err
	}

	token, err := c.acquireToken(ctx, false)
	if err != nil {
		return nil, err
	}

	boundary := batchwire.NewBoundary()
	req := &request{
		method: http.MethodPost,
		path:   batchPath,
		header: http.Header{"Content-Type": []string{batchwire.ContentType(boundary)}},
		body:   batchwire.Encode(boundary, parts),
	}

	resp, err := c.executeWithToken(ctx, req, token)
	if err != nil {
		return nil, err
	}

	candidates := []string{
		boundaryOf(resp.header.Get("Content-Type")),
		batchwire.ResponseBoundaryFor(boundary),
		boundary,
	}
	decoded, err := batchwire.Decode(resp.body, candidates...)
	if err != nil {
		c.logger.Warn("Batch reply could not be decoded", "operations", len(ops), "status", resp.status, "error", err.Error())
		results := fitResults(nil, len(ops))
		c.recordBatch(ops, results)
		return results, newError(ErrorTypeDecode, "decode batch reply", err)
	}

	results := make([]BatchResult, 0, len(decoded))
	for _, part := range decoded {
		results = append(results, toBatchResult(part))
	}
	if len(results) != len(ops) && c.debugEnabled() {
		c.logger.Debug("Batch reply part count differs from operations", "operations", len(ops), "parts", len(results))
	}
	results = fitResults(results, len(ops))
	c.recordBatch(ops, results)
	return results, nil
}

func (c *Client) batchParts(ops []BatchOperation) ([]batchwire.Part, error) {
	parts := make([]batchwire.Part, 0, len(ops))
	for i, op := range ops {
		header := http.Header{}
		header.Set("Accept", c.accept)

		var (
			method string
			path   string
			body   []byte
		)
		switch op.Kind {
		case OpCreate:
			method = http.MethodPost
			path = op.List.ItemsPath()
		case OpUpdate:
			method = http.MethodPatch
			path = op.List.ItemPath(op.ID)
			header.Set("If-Match", ifMatch(op.ETag))
		case OpDelete:
			method = http.MethodDelete
			path = op.List.ItemPath(op.ID)
			header.Set("If-Match", ifMatch(op.ETag))
		default:
			return nil, newError(ErrorTypeValidation, fmt.Sprintf("operation %d: unknown kind %q", i, op.Kind), nil)
		}

		if op.List.Value == "" {
			return nil, newError(ErrorTypeValidation, fmt.Sprintf("operation %d: list is required", i), nil)
		}
		if op.Kind != OpCreate && op.ID <= 0 {
			return nil, newError(ErrorTypeValidation, fmt.Sprintf("operation %d: %s requires an item id", i, op.Kind), nil)
		}

		if op.Kind != OpDelete {
			payload := op.Body
			if payload == nil {
				payload = map[string]any{}
			}
			encoded, err := json.Marshal(payload)
			if err != nil {
				return nil, newError(ErrorTypeValidation, fmt.Sprintf("operation %d: encode body", i), err)
			}
			body = encoded
			header.Set("Content-Type", defaultContentType)
		}

		parts = append(parts, batchwire.Part{
			Method: method,
			URL:    c.absoluteURL(path),
			Header: header,
			Body:   body,
		})
	}
	return parts, nil
}

func (c *Client) recordBatch(ops []BatchOperation, results []BatchResult) {
	for i, op := range ops {
		c.metrics.RecordBatchResult(op.Kind, results[i].OK)
	}
}

func toBatchResult(part batchwire.Response) BatchResult {
	if part.Err != nil {
		text := part.Err.Error()
		if len(part.Body) > 0 {
			text = string(part.Body)
		}
		return BatchResult{OK: false, Status: part.Status, Text: text}
	}
	result := BatchResult{
		OK:     part.Status >= 200 && part.Status < 300,
		Status: part.Status,
	}
	if data := coerce(part.Status, part.Header, part.Body); data != nil {
		result.Data = data
	} else {
		result.Text = string(part.Body)
	}
	return result
}

// fitResults pads with "missing response" entries or truncates to n.
func fitResults(results []BatchResult, n int) []BatchResult {
	if len(results) > n {
		return results[:n]
	}
	for len(results) < n {
		results = append(results, BatchResult{OK: false, Status: 0, Text: "missing response"})
	}
	return results
}

func boundaryOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	return contenttype.NewMediaType(contentType).Parameters["boundary"]
}

func ifMatch(etag string) string {
	if etag == "" {
		return "*"
	}
	return etag
}

// IsBatchDecodeError reports whether err came from an undecodable batch reply.
func IsBatchDecodeError(err error) bool {
	var clientErr *ClientError
	return errors.As(err, &clientErr) && clientErr.Type == ErrorTypeDecode
}
