package splists

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Query holds the OData options of a collection read.
type Query struct {
	Select  []string
	Filter  string
	OrderBy string
	Expand  []string
	Top     int

	// OptionalSelect fields are appended to $select unless the list is known
	// not to have them. A 400/404 naming one of them records it as missing and
	// re-issues the first page once without it.
	OptionalSelect []string

	// PageTimeout bounds each page request, retries included. Zero means no
	// per-page bound beyond the caller's context.
	PageTimeout time.Duration
}

func (q Query) encode(optional []string) string {
	values := url.Values{}
	selects := append(append([]string(nil), q.Select...), optional...)
	if len(selects) > 0 {
		values.Set("$select", strings.Join(selects, ","))
	}
	if q.Filter != "" {
		values.Set("$filter", q.Filter)
	}
	if q.OrderBy != "" {
		values.Set("$orderby", q.OrderBy)
	}
	if len(q.Expand) > 0 {
		values.Set("$expand", strings.Join(q.Expand, ","))
	}
	if q.Top > 0 {
		values.Set("$top", strconv.Itoa(q.Top))
	}
	return values.Encode()
}

// Items drains the items collection of list.
func (c *Client) Items(ctx context.Context, list ListRef, q Query) ([]json.RawMessage, error) {
	return c.drain(ctx, list.ItemsPath(), list.Key(), q)
}

// ListItems drains a collection resource (a path relative to the base URL,
// such as ListRef.ItemsPath or ListRef.FieldsPath) by following next links
// until a page has none. Items are returned in page order.
//
// If a page after the first fails, the items read so far are returned with a
// *PageError naming the failed page.
func (c *Client) ListItems(ctx context.Context, resource string, q Query) ([]json.RawMessage, error) {
	return c.drain(ctx, resource, listKeyOf(resource), q)
}

// listKeyOf keys the missing-field cache for resource. An items collection
// shares its key with Items so both entry points see the same trimmed fields.
func listKeyOf(resource string) string {
	if ref, rest, ok := listRefFromPath(resource); ok && strings.EqualFold(rest, "/items") {
		return ref.Key()
	}
	return endpointOf(resource)
}

// ListAll drains resource and decodes every item into T.
func ListAll[T any](ctx context.Context, c *Client, resource string, q Query) ([]T, error) {
	raw, drainErr := c.ListItems(ctx, resource, q)
	out := make([]T, 0, len(raw))
	for i, item := range raw {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			return out, newError(ErrorTypeDecode, fmt.Sprintf("decode item %d", i), err)
		}
		out = append(out, v)
	}
	return out, drainErr
}

func (c *Client) drain(ctx context.Context, resource, listKey string, q Query) ([]json.RawMessage, error) {
	optional, err := c.activeOptional(ctx, listKey, q.OptionalSelect)
	if err != nil {
		return nil, err
	}

	endpoint := metricsEndpoint(resource)
	path := withQuery(resource, q.encode(optional))
	trims := 0

	var items []json.RawMessage
	for page := 1; ; page++ {
		resp, err := c.fetchPage(ctx, path, q.PageTimeout)
		if err != nil {
			if page == 1 && trims < len(q.OptionalSelect) {
				if field := missingFieldIn(err, optional); field != "" {
					trims++
					if cacheErr := c.missing.Add(ctx, listKey, field); cacheErr != nil {
						c.logger.Warn("Recording missing field failed", "list", listKey, "field", field, "error", cacheErr.Error())
					}
					c.logger.Info("Optional field missing on server, retrying without it", "list", listKey, "field", field)
					optional = without(optional, field)
					path = withQuery(resource, q.encode(optional))
					page--
					continue
				}
			}
			if page == 1 {
				return nil, err
			}
			return items, &PageError{Page: page, Cause: err}
		}

		c.metrics.RecordPage(endpoint)
		pageItems, next := parsePage(resp.json())
		items = append(items, pageItems...)

		if next == "" {
			return items, nil
		}
		path, err = c.relativize(next)
		if err != nil {
			return items, &PageError{Page: page + 1, Cause: err}
		}
	}
}

// fetchPage runs one page under its own child context.
func (c *Client) fetchPage(ctx context.Context, path string, timeout time.Duration) (*response, error) {
	var (
		pageCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		pageCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		pageCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	return c.execute(pageCtx, &request{method: http.MethodGet, path: path})
}

func (c *Client) activeOptional(ctx context.Context, listKey string, fields []string) ([]string, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	missing, err := c.missing.Missing(ctx, listKey)
	if err != nil {
		c.logger.Warn("Reading missing field cache failed", "list", listKey, "error", err.Error())
		return append([]string(nil), fields...), nil
	}
	var out []string
	for _, f := range fields {
		if _, gone := missing[f]; !gone {
			out = append(out, f)
		}
	}
	return out, nil
}

// missingFieldIn returns the optional field a 400/404 error names, if any.
func missingFieldIn(err error, optional []string) string {
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		return ""
	}
	if clientErr.StatusCode != http.StatusBadRequest && clientErr.StatusCode != http.StatusNotFound {
		return ""
	}
	msg := strings.ToLower(clientErr.Message)
	for _, f := range optional {
		if strings.Contains(msg, strings.ToLower(f)) {
			return f
		}
	}
	return ""
}

func without(fields []string, drop string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != drop {
			out = append(out, f)
		}
	}
	return out
}

func withQuery(resource, query string) string {
	if query == "" {
		return resource
	}
	if strings.Contains(resource, "?") {
		return resource + "&" + query
	}
	return resource + "?" + query
}

// parsePage returns the items and next link of one collection payload. Items
// come from value (nometadata/minimal) or results (verbose), or the payload
// itself when it is an array.
func parsePage(payload json.RawMessage) ([]json.RawMessage, string) {
	if len(payload) == 0 {
		return nil, ""
	}
	parsed := gjson.ParseBytes(payload)

	var (
		collection gjson.Result
		next       string
	)
	if parsed.IsArray() {
		collection = parsed
	} else {
		parsed.ForEach(func(key, value gjson.Result) bool {
			switch key.Str {
			case "value", "results":
				if value.IsArray() && !collection.Exists() {
					collection = value
				}
			case "odata.nextLink", "@odata.nextLink", "__next":
				if next == "" && value.Type == gjson.String {
					next = value.Str
				}
			}
			return true
		})
	}

	var items []json.RawMessage
	collection.ForEach(func(_, value gjson.Result) bool {
		items = append(items, json.RawMessage(value.Raw))
		return true
	})
	return items, next
}

// relativize maps a next link onto a path relative to the base URL. Links to
// another scheme or host are refused.
func (c *Client) relativize(next string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(next))
	if err != nil {
		return "", newError(ErrorTypeValidation, "invalid next link", err)
	}

	if u.IsAbs() || u.Host != "" {
		if !strings.EqualFold(u.Scheme, c.baseURL.Scheme) || !strings.EqualFold(u.Host, c.baseURL.Host) {
			return "", newError(ErrorTypeValidation, fmt.Sprintf("next link %q leaves %s", next, c.baseURL.Host), nil)
		}
	}

	path := u.EscapedPath()
	basePath := c.baseURL.EscapedPath()
	if basePath != "" {
		switch {
		case hasPathPrefixFold(path, basePath):
			path = path[len(basePath):]
		case u.IsAbs():
			return "", newError(ErrorTypeValidation, fmt.Sprintf("next link %q is outside %s", next, c.baseURL), nil)
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path, nil
}

// hasPathPrefixFold reports whether path is base or lies below it, ignoring
// case as the server does.
func hasPathPrefixFold(path, base string) bool {
	if !hasPrefixFold(path, base) {
		return false
	}
	return len(path) == len(base) || path[len(base)] == '/'
}
