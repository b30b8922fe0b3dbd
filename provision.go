package splists

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// GenericListTemplate is the base template of a custom list.
const GenericListTemplate = 100

// createFieldOptions is AddFieldInternalNameHint: keep Name as the internal name.
const createFieldOptions = 8

// ListSpec names the list EnsureListExists manages. Override, when set, takes
// precedence over Title (see ResolveList).
type ListSpec struct {
	Title       string
	Override    string
	Description string
	Template    int
}

// ListInfo reports the provisioned list.
type ListInfo struct {
	ID    string
	Title string

	Created            bool
	FieldsCreated      []string
	RequiredMismatches []string
}

// EnsureListExists makes sure the list and every field in fields exist.
// Missing lists and fields are created; a field whose required flag differs
// from the server is logged as a warning and left unchanged. Repeated calls
// are no-ops once the schema is in place.
func (c *Client) EnsureListExists(ctx context.Context, spec ListSpec, fields []FieldSchema) (*ListInfo, error) {
	ref := ResolveList(spec.Override, spec.Title)
	if ref.Value == "" {
		return nil, newError(ErrorTypeValidation, "list title is required", nil)
	}
	if err := checkFieldNames(fields); err != nil {
		return nil, err
	}

	info := &ListInfo{}
	resp, err := c.execute(ctx, &request{method: http.MethodGet, path: ref.Path() + "?$select=Id,Title"})
	switch {
	case err == nil:
		readListInfo(resp, info)
	case StatusCode(err) == http.StatusNotFound:
		if err := c.createList(ctx, spec, ref, info); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if info.ID != "" {
		ref = NewGUIDRef(info.ID)
	}
	if info.Title == "" {
		info.Title = ref.Value
	}

	if len(fields) == 0 {
		return info, nil
	}

	existing, err := c.serverFields(ctx, ref)
	if err != nil {
		return nil, err
	}

	for _, field := range fields {
		name := field.InternalName()
		required, ok := existing[strings.ToLower(name)]
		if !ok {
			if err := c.createField(ctx, ref, field); err != nil {
				return info, err
			}
			info.FieldsCreated = append(info.FieldsCreated, name)
			c.metrics.RecordFieldCreated(info.Title)
			continue
		}
		if required != field.IsRequired() {
			info.RequiredMismatches = append(info.RequiredMismatches, name)
			c.logger.Warn("Field required flag differs from server; leaving it unchanged",
				"list", info.Title, "field", name, "expected", field.IsRequired(), "server", required)
		}
	}

	return info, nil
}

func checkFieldNames(fields []FieldSchema) error {
	seen := make(map[string]struct{}, len(fields))
	for i, f := range fields {
		if f == nil {
			return newError(ErrorTypeValidation, fmt.Sprintf("field %d is nil", i), nil)
		}
		name := strings.ToLower(strings.TrimSpace(f.InternalName()))
		if name == "" {
			return newError(ErrorTypeValidation, fmt.Sprintf("field %d has no name", i), nil)
		}
		if _, dup := seen[name]; dup {
			return newError(ErrorTypeValidation, fmt.Sprintf("field %q listed twice", f.InternalName()), nil)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func readListInfo(resp *response, info *ListInfo) {
	payload := gjson.ParseBytes(resp.json())
	info.ID = bareGUID(payload.Get("Id").String())
	info.Title = payload.Get("Title").String()
}

func (c *Client) createList(ctx context.Context, spec ListSpec, ref ListRef, info *ListInfo) error {
	title := strings.TrimSpace(spec.Title)
	if ref.Kind == RefTitle {
		title = ref.Value
	}
	if title == "" {
		return newError(ErrorTypeValidation, fmt.Sprintf("list %s not found and no title to create it with", ref), nil)
	}
	template := spec.Template
	if template == 0 {
		template = GenericListTemplate
	}

	body := `{}`
	var err error
	if c.verbose() {
		if body, err = sjson.Set(body, "__metadata.type", "SP.List"); err != nil {
			return newError(ErrorTypeValidation, "build list body", err)
		}
	}
	for _, kv := range []struct {
		path  string
		value any
	}{
		{"Title", title},
		{"BaseTemplate", template},
		{"Description", spec.Description},
		{"AllowContentTypes", true},
		{"ContentTypesEnabled", false},
	} {
		if body, err = sjson.Set(body, kv.path, kv.value); err != nil {
			return newError(ErrorTypeValidation, "build list body", err)
		}
	}

	resp, err := c.execute(ctx, &request{method: http.MethodPost, path: "/_api/web/lists", body: []byte(body)})
	if err != nil {
		return err
	}
	readListInfo(resp, info)
	if info.Title == "" {
		info.Title = title
	}
	info.Created = true
	c.logger.Info("Created list", "title", info.Title, "id", info.ID)
	return nil
}

// serverFields maps lower-cased internal names to their required flag.
func (c *Client) serverFields(ctx context.Context, ref ListRef) (map[string]bool, error) {
	raw, err := c.ListItems(ctx, ref.FieldsPath(), Query{Select: []string{"InternalName", "StaticName", "Required"}})
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(raw))
	for _, item := range raw {
		parsed := gjson.ParseBytes(item)
		required := parsed.Get("Required").Bool()
		for _, key := range []string{"InternalName", "StaticName"} {
			if name := parsed.Get(key).String(); name != "" {
				out[strings.ToLower(name)] = required
			}
		}
	}
	return out, nil
}

func (c *Client) createField(ctx context.Context, ref ListRef, field FieldSchema) error {
	schema, err := field.SchemaXML()
	if err != nil {
		return err
	}

	body := `{}`
	if c.verbose() {
		if body, err = sjson.Set(body, "parameters.__metadata.type", "SP.XmlSchemaFieldCreationInformation"); err != nil {
			return newError(ErrorTypeValidation, "build field body", err)
		}
	}
	if body, err = sjson.Set(body, "parameters.SchemaXml", schema); err != nil {
		return newError(ErrorTypeValidation, "build field body", err)
	}
	if body, err = sjson.Set(body, "parameters.Options", createFieldOptions); err != nil {
		return newError(ErrorTypeValidation, "build field body", err)
	}

	_, err = c.execute(ctx, &request{
		method: http.MethodPost,
		path:   ref.FieldsPath() + "/createfieldasxml",
		body:   []byte(body),
	})
	if err != nil {
		return err
	}
	if c.debugEnabled() {
		c.logger.Debug("Created field", "list", ref.Key(), "field", field.InternalName())
	}
	return nil
}

func (c *Client) verbose() bool {
	return strings.Contains(strings.ToLower(c.accept), "odata=verbose")
}
