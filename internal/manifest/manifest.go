// Package manifest reads YAML list definitions for provisioning.
package manifest

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	splists "github.com/yasutakesougo/audit-management-system-mvp-sub007"
)

// Manifest is one list and its fields.
//
//	list:
//	  title: Records
//	fields:
//	  - name: Status
//	    type: choice
//	    choices: [Open, Closed]
type Manifest struct {
	List   List    `yaml:"list"`
	Fields []Field `yaml:"fields"`
}

// List names the target list. ID, when set, takes precedence over Title.
type List struct {
	Title       string `yaml:"title"`
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Template    int    `yaml:"template"`
}

// Field is the union of every field type's settings; Type selects which apply.
type Field struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	DisplayName string `yaml:"display_name"`
	Required    bool   `yaml:"required"`
	Description string `yaml:"description"`
	Default     any    `yaml:"default"`

	MaxLength int  `yaml:"max_length"`
	RichText  bool `yaml:"rich_text"`
	Lines     int  `yaml:"lines"`

	ListID    string `yaml:"list_id"`
	ShowField string `yaml:"show_field"`
	Multiple  bool   `yaml:"multiple"`

	Format string `yaml:"format"`

	Min      *float64 `yaml:"min"`
	Max      *float64 `yaml:"max"`
	Decimals *int     `yaml:"decimals"`

	Choices []string `yaml:"choices"`
	Radio   bool     `yaml:"radio"`
	FillIn  bool     `yaml:"fill_in"`
}

// Load decodes a manifest from r.
func Load(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if strings.TrimSpace(m.List.Title) == "" && strings.TrimSpace(m.List.ID) == "" {
		return nil, fmt.Errorf("manifest: list.title or list.id is required")
	}
	return &m, nil
}

// Spec returns the ListSpec for EnsureListExists.
func (m *Manifest) Spec() splists.ListSpec {
	return splists.ListSpec{
		Title:       m.List.Title,
		Override:    m.List.ID,
		Description: m.List.Description,
		Template:    m.List.Template,
	}
}

// Schemas converts the field entries.
func (m *Manifest) Schemas() ([]splists.FieldSchema, error) {
	out := make([]splists.FieldSchema, 0, len(m.Fields))
	for i, f := range m.Fields {
		s, err := f.Schema()
		if err != nil {
			return nil, fmt.Errorf("fields[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Schema converts one entry into its FieldSchema.
func (f Field) Schema() (splists.FieldSchema, error) {
	base := splists.FieldBase{
		Name:        f.Name,
		DisplayName: f.DisplayName,
		Required:    f.Required,
		Description: f.Description,
	}
	def := defaultString(f.Default)

	switch strings.ToLower(f.Type) {
	case "", "text":
		return splists.TextField{FieldBase: base, MaxLength: f.MaxLength, Default: def}, nil
	case "note":
		return splists.NoteField{FieldBase: base, RichText: f.RichText, NumLines: f.Lines, Default: def}, nil
	case "lookup":
		return splists.LookupField{FieldBase: base, ListID: f.ListID, ShowField: f.ShowField, AllowMultiple: f.Multiple}, nil
	case "datetime", "date":
		format := splists.DateTime
		if strings.EqualFold(f.Format, "date") || strings.EqualFold(f.Format, string(splists.DateOnly)) || strings.EqualFold(f.Type, "date") {
			format = splists.DateOnly
		}
		return splists.DateTimeField{FieldBase: base, Format: format, Default: def}, nil
	case "boolean", "bool":
		field := splists.BooleanField{FieldBase: base}
		if def != "" {
			b, err := strconv.ParseBool(def)
			if err != nil {
				return nil, fmt.Errorf("field %q: invalid boolean default %q", f.Name, def)
			}
			field.Default = &b
		}
		return field, nil
	case "number":
		field := splists.NumberField{FieldBase: base, Min: f.Min, Max: f.Max, Decimals: f.Decimals}
		if def != "" {
			n, err := strconv.ParseFloat(def, 64)
			if err != nil {
				return nil, fmt.Errorf("field %q: invalid number default %q", f.Name, def)
			}
			field.Default = &n
		}
		return field, nil
	case "choice":
		return splists.ChoiceField{
			FieldBase:     base,
			Choices:       f.Choices,
			RadioButtons:  f.Radio,
			AllowFillIn:   f.FillIn,
			AllowMultiple: f.Multiple,
			Default:       def,
		}, nil
	default:
		return nil, fmt.Errorf("field %q: unknown type %q", f.Name, f.Type)
	}
}

func defaultString(v any) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
