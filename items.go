package splists

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// GetItem reads one item together with its ETag. The ETag header wins over an
// etag carried in the payload metadata.
func (c *Client) GetItem(ctx context.Context, list ListRef, id int) (*Item, error) {
	resp, err := c.execute(ctx, &request{method: http.MethodGet, path: list.ItemPath(id)})
	if err != nil {
		if StatusCode(err) == http.StatusNotFound {
			return nil, c.notFound(list, id, err)
		}
		return nil, err
	}
	data := resp.json()
	return &Item{Data: data, ETag: etagOf(resp.header, data)}, nil
}

// CreateItem adds an item to list and returns it as created by the server.
func (c *Client) CreateItem(ctx context.Context, list ListRef, body map[string]any) (*Item, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	resp, err := c.execute(ctx, &request{method: http.MethodPost, path: list.ItemsPath(), body: payload})
	if err != nil {
		return nil, err
	}
	data := resp.json()
	return &Item{Data: data, ETag: etagOf(resp.header, data)}, nil
}

// UpdateItem merges body into item id under If-Match: etag (an empty etag
// matches any version). A 412 is repaired once by re-reading the item's ETag.
func (c *Client) UpdateItem(ctx context.Context, list ListRef, id int, body map[string]any, etag string) error {
	payload, err := encodeBody(body)
	if err != nil {
		return err
	}
	return c.mutate(ctx, list, id, http.MethodPatch, payload, etag)
}

// DeleteItem removes item id under If-Match: etag, with the same single 412
// repair as UpdateItem.
func (c *Client) DeleteItem(ctx context.Context, list ListRef, id int, etag string) error {
	return c.mutate(ctx, list, id, http.MethodDelete, nil, etag)
}

func (c *Client) mutate(ctx context.Context, list ListRef, id int, method string, payload []byte, etag string) error {
	if id <= 0 {
		return newError(ErrorTypeValidation, fmt.Sprintf("item id must be positive, got %d", id), nil)
	}

	err := c.sendMutation(ctx, list, id, method, payload, etag)
	if StatusCode(err) != http.StatusPreconditionFailed {
		return err
	}

	if c.debugEnabled() {
		c.logger.Debug("Precondition failed, refreshing etag", "list", list.Key(), "id", id, "method", method)
	}

	fresh, refreshErr := c.refreshEtag(ctx, list, id)
	if refreshErr != nil {
		return refreshErr
	}

	err = c.sendMutation(ctx, list, id, method, payload, fresh)
	if err == nil {
		c.metrics.RecordEtagRefresh("repaired")
		return nil
	}
	if StatusCode(err) == http.StatusPreconditionFailed {
		c.metrics.RecordEtagRefresh("conflict")
		return &ClientError{
			Type:       ErrorTypeMissingEtag,
			Message:    fmt.Sprintf("conflict persisted after refresh on %s item %d", list, id),
			Cause:      err,
			Method:     method,
			URL:        c.absoluteURL(list.ItemPath(id)),
			StatusCode: http.StatusPreconditionFailed,
		}
	}
	return err
}

func (c *Client) sendMutation(ctx context.Context, list ListRef, id int, method string, payload []byte, etag string) error {
	header := http.Header{}
	header.Set("If-Match", ifMatch(etag))
	_, err := c.execute(ctx, &request{method: method, path: list.ItemPath(id), header: header, body: payload})
	return err
}

// refreshEtag reads the current ETag header of an item after a 412.
func (c *Client) refreshEtag(ctx context.Context, list ListRef, id int) (string, error) {
	resp, err := c.execute(ctx, &request{method: http.MethodGet, path: list.ItemPath(id)})
	if err != nil {
		if StatusCode(err) == http.StatusNotFound {
			c.metrics.RecordEtagRefresh("not_found")
			return "", c.notFound(list, id, err)
		}
		return "", err
	}
	etag := strings.TrimSpace(resp.header.Get("ETag"))
	if etag == "" {
		c.metrics.RecordEtagRefresh("missing_etag")
		return "", &ClientError{
			Type:    ErrorTypeMissingEtag,
			Message: fmt.Sprintf("refresh of %s item %d returned no etag", list, id),
			Method:  http.MethodGet,
			URL:     c.absoluteURL(list.ItemPath(id)),
		}
	}
	return etag, nil
}

func (c *Client) notFound(list ListRef, id int, cause error) error {
	return &ClientError{
		Type:       ErrorTypeItemNotFound,
		Message:    fmt.Sprintf("%s item %d no longer exists", list, id),
		Cause:      cause,
		Method:     http.MethodGet,
		URL:        c.absoluteURL(list.ItemPath(id)),
		StatusCode: http.StatusNotFound,
	}
}

// etagOf reads the ETag header, falling back to __metadata.etag or
// odata.etag in the payload.
func etagOf(header http.Header, data json.RawMessage) string {
	if etag := strings.TrimSpace(header.Get("ETag")); etag != "" {
		return etag
	}
	if len(data) == 0 {
		return ""
	}
	parsed := gjson.ParseBytes(data)
	for _, path := range []string{"__metadata.etag", `odata\.etag`} {
		if r := parsed.Get(path); r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}
	return ""
}

func encodeBody(body map[string]any) ([]byte, error) {
	if body == nil {
		body = map[string]any{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, newError(ErrorTypeValidation, "encode request body", err)
	}
	return payload, nil
}
