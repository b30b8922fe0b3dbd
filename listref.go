package splists

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// RefKind says how a ListRef addresses its list.
type RefKind string

// Reference kinds.
const (
	RefGUID  RefKind = "guid"
	RefTitle RefKind = "title"
)

// ListRef identifies a list by GUID or by title. GUID values are stored bare
// (no braces, no guid: prefix, lower case).
type ListRef struct {
	Kind  RefKind
	Value string
}

var guidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ResolveList maps an optional override and a default title to a ListRef.
// Precedence: a GUID override (with or without braces), then a guid:-prefixed
// override, then a title override, then defaultTitle.
func ResolveList(override, defaultTitle string) ListRef {
	value := strings.TrimSpace(override)
	if value == "" {
		return NewTitleRef(defaultTitle)
	}

	if bare := bareGUID(value); guidPattern.MatchString(bare) {
		return ListRef{Kind: RefGUID, Value: strings.ToLower(bare)}
	}

	if len(value) > len("guid:") && strings.EqualFold(value[:len("guid:")], "guid:") {
		return NewGUIDRef(value)
	}

	return NewTitleRef(value)
}

// NewGUIDRef builds a GUID reference, normalising braces and a guid: prefix.
func NewGUIDRef(value string) ListRef {
	return ListRef{Kind: RefGUID, Value: strings.ToLower(bareGUID(value))}
}

// NewTitleRef builds a title reference.
func NewTitleRef(title string) ListRef {
	return ListRef{Kind: RefTitle, Value: strings.TrimSpace(title)}
}

func bareGUID(value string) string {
	v := strings.TrimSpace(value)
	if len(v) >= len("guid:") && strings.EqualFold(v[:len("guid:")], "guid:") {
		v = strings.TrimSpace(v[len("guid:"):])
	}
	v = strings.TrimPrefix(v, "{")
	v = strings.TrimSuffix(v, "}")
	return v
}

// Path returns the list endpoint relative to the site base URL.
func (r ListRef) Path() string {
	if r.Kind == RefGUID {
		return fmt.Sprintf("/_api/web/lists(guid'%s')", r.Value)
	}
	return fmt.Sprintf("/_api/web/lists/getbytitle('%s')", escapeODataString(r.Value))
}

// ItemsPath returns the items collection endpoint.
func (r ListRef) ItemsPath() string {
	return r.Path() + "/items"
}

// ItemPath returns the endpoint of a single item.
func (r ListRef) ItemPath(id int) string {
	return fmt.Sprintf("%s/items(%d)", r.Path(), id)
}

// FieldsPath returns the fields collection endpoint.
func (r ListRef) FieldsPath() string {
	return r.Path() + "/fields"
}

// Key identifies the list in caches.
func (r ListRef) Key() string {
	if r.Kind == RefGUID {
		return "guid:" + r.Value
	}
	return "title:" + strings.ToLower(r.Value)
}

func (r ListRef) String() string {
	return r.Key()
}

// listRefFromPath recognises a path built by ListRef.Path and returns the
// reference together with whatever follows the list segment.
func listRefFromPath(path string) (ListRef, string, bool) {
	const (
		guidPrefix  = "/_api/web/lists(guid'"
		titlePrefix = "/_api/web/lists/getbytitle('"
	)
	p := endpointOf(path)
	switch {
	case hasPrefixFold(p, guidPrefix):
		p = p[len(guidPrefix):]
		end := strings.Index(p, "')")
		if end < 0 {
			return ListRef{}, "", false
		}
		return NewGUIDRef(p[:end]), p[end+2:], true
	case hasPrefixFold(p, titlePrefix):
		p = p[len(titlePrefix):]
		end := -1
		for i := 0; i < len(p); i++ {
			if p[i] != '\'' {
				continue
			}
			if i+1 < len(p) && p[i+1] == '\'' {
				i++
				continue
			}
			end = i
			break
		}
		if end < 0 || end+1 >= len(p) || p[end+1] != ')' {
			return ListRef{}, "", false
		}
		title := p[:end]
		if unescaped, err := url.PathUnescape(title); err == nil {
			title = unescaped
		}
		return NewTitleRef(strings.ReplaceAll(title, "''", "'")), p[end+2:], true
	}
	return ListRef{}, "", false
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// escapeODataString doubles single quotes for an OData string literal and
// path-escapes the result.
func escapeODataString(s string) string {
	return url.PathEscape(strings.ReplaceAll(s, "'", "''"))
}
