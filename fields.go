package splists

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// FieldSchema describes a column to provision. The concrete types are
// TextField, NoteField, LookupField, DateTimeField, BooleanField, NumberField
// and ChoiceField.
type FieldSchema interface {
	InternalName() string
	IsRequired() bool
	// SchemaXML renders the CAML <Field> element sent to createfieldasxml.
	SchemaXML() (string, error)

	caml() camlField
}

// FieldBase carries the attributes every field type shares.
type FieldBase struct {
	Name        string
	DisplayName string
	Required    bool
	Description string
}

// InternalName returns the field's internal (static) name.
func (b FieldBase) InternalName() string { return b.Name }

// IsRequired reports whether the field must have a value.
func (b FieldBase) IsRequired() bool { return b.Required }

func (b FieldBase) base(fieldType string) camlField {
	display := b.DisplayName
	if display == "" {
		display = b.Name
	}
	return camlField{
		Type:        fieldType,
		Name:        b.Name,
		StaticName:  b.Name,
		DisplayName: display,
		Required:    camlBool(b.Required),
		Description: b.Description,
	}
}

// TextField is a single line of text. MaxLength of zero leaves the server limit.
type TextField struct {
	FieldBase
	MaxLength int
	Default   string
}

func (f TextField) caml() camlField {
	c := f.base("Text")
	if f.MaxLength > 0 {
		c.MaxLength = strconv.Itoa(f.MaxLength)
	}
	c.Default = f.Default
	return c
}

// SchemaXML renders the field as CAML.
func (f TextField) SchemaXML() (string, error) { return renderField(f) }

// NoteField is multi-line text, optionally rich.
type NoteField struct {
	FieldBase
	RichText bool
	NumLines int
	Default  string
}

func (f NoteField) caml() camlField {
	c := f.base("Note")
	c.RichText = camlBool(f.RichText)
	if f.NumLines > 0 {
		c.NumLines = strconv.Itoa(f.NumLines)
	}
	c.Default = f.Default
	return c
}

// SchemaXML renders the field as CAML.
func (f NoteField) SchemaXML() (string, error) { return renderField(f) }

// LookupField references ShowField (Title by default) of the list ListID.
type LookupField struct {
	FieldBase
	ListID        string
	ShowField     string
	AllowMultiple bool
}

func (f LookupField) caml() camlField {
	c := f.base("Lookup")
	if f.AllowMultiple {
		c.Type = "LookupMulti"
		c.Mult = "TRUE"
	}
	if id := bareGUID(f.ListID); id != "" {
		c.List = "{" + strings.ToLower(id) + "}"
	}
	c.ShowField = f.ShowField
	if c.ShowField == "" {
		c.ShowField = "Title"
	}
	return c
}

// SchemaXML renders the field as CAML. ListID is required.
func (f LookupField) SchemaXML() (string, error) {
	if bareGUID(f.ListID) == "" {
		return "", newError(ErrorTypeValidation, fmt.Sprintf("lookup field %q needs a list id", f.Name), nil)
	}
	return renderField(f)
}

// DateTimeFormat is the Format attribute of a DateTime field.
type DateTimeFormat string

// Supported DateTime formats.
const (
	DateOnly DateTimeFormat = "DateOnly"
	DateTime DateTimeFormat = "DateTime"
)

// DateTimeField holds a date, or a date and time when Format is DateTime.
type DateTimeField struct {
	FieldBase
	Format  DateTimeFormat
	Default string
}

func (f DateTimeField) caml() camlField {
	c := f.base("DateTime")
	c.Format = string(f.Format)
	if c.Format == "" {
		c.Format = string(DateTime)
	}
	c.Default = f.Default
	return c
}

// SchemaXML renders the field as CAML.
func (f DateTimeField) SchemaXML() (string, error) { return renderField(f) }

// BooleanField defaults serialize as "1" and "0". A nil Default omits it.
type BooleanField struct {
	FieldBase
	Default *bool
}

func (f BooleanField) caml() camlField {
	c := f.base("Boolean")
	if f.Default != nil {
		c.Default = "0"
		if *f.Default {
			c.Default = "1"
		}
	}
	return c
}

// SchemaXML renders the field as CAML.
func (f BooleanField) SchemaXML() (string, error) { return renderField(f) }

// NumberField is a number with optional bounds and decimal places.
type NumberField struct {
	FieldBase
	Min      *float64
	Max      *float64
	Decimals *int
	Default  *float64
}

func (f NumberField) caml() camlField {
	c := f.base("Number")
	if f.Min != nil {
		c.Min = formatNumber(*f.Min)
	}
	if f.Max != nil {
		c.Max = formatNumber(*f.Max)
	}
	if f.Decimals != nil {
		c.Decimals = strconv.Itoa(*f.Decimals)
	}
	if f.Default != nil {
		c.Default = formatNumber(*f.Default)
	}
	return c
}

// SchemaXML renders the field as CAML, rejecting Min greater than Max.
func (f NumberField) SchemaXML() (string, error) {
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return "", newError(ErrorTypeValidation, fmt.Sprintf("number field %q has min > max", f.Name), nil)
	}
	return renderField(f)
}

// ChoiceField offers Choices as a dropdown (or radio buttons).
type ChoiceField struct {
	FieldBase
	Choices       []string
	RadioButtons  bool
	AllowFillIn   bool
	AllowMultiple bool
	Default       string
}

func (f ChoiceField) caml() camlField {
	c := f.base("Choice")
	if f.AllowMultiple {
		c.Type = "MultiChoice"
	} else if f.RadioButtons {
		c.Format = "RadioButtons"
	} else {
		c.Format = "Dropdown"
	}
	if f.AllowFillIn {
		c.FillInChoice = "TRUE"
	}
	c.Default = f.Default
	c.Choices = &camlChoices{Choice: f.Choices}
	return c
}

// SchemaXML renders the field as CAML. At least one choice is required.
func (f ChoiceField) SchemaXML() (string, error) {
	if len(f.Choices) == 0 {
		return "", newError(ErrorTypeValidation, fmt.Sprintf("choice field %q has no choices", f.Name), nil)
	}
	return renderField(f)
}

type camlField struct {
	XMLName      xml.Name `xml:"Field"`
	Type         string   `xml:"Type,attr"`
	Name         string   `xml:"Name,attr"`
	StaticName   string   `xml:"StaticName,attr"`
	DisplayName  string   `xml:"DisplayName,attr"`
	Required     string   `xml:"Required,attr"`
	MaxLength    string   `xml:"MaxLength,attr,omitempty"`
	RichText     string   `xml:"RichText,attr,omitempty"`
	NumLines     string   `xml:"NumLines,attr,omitempty"`
	List         string   `xml:"List,attr,omitempty"`
	ShowField    string   `xml:"ShowField,attr,omitempty"`
	Mult         string   `xml:"Mult,attr,omitempty"`
	Format       string   `xml:"Format,attr,omitempty"`
	Min          string   `xml:"Min,attr,omitempty"`
	Max          string   `xml:"Max,attr,omitempty"`
	Decimals     string   `xml:"Decimals,attr,omitempty"`
	FillInChoice string   `xml:"FillInChoice,attr,omitempty"`

	Description string       `xml:"Description,omitempty"`
	Default     string       `xml:"Default,omitempty"`
	Choices     *camlChoices `xml:"CHOICES,omitempty"`
}

type camlChoices struct {
	Choice []string `xml:"CHOICE"`
}

func renderField(f FieldSchema) (string, error) {
	if strings.TrimSpace(f.InternalName()) == "" {
		return "", newError(ErrorTypeValidation, "field name is required", nil)
	}
	out, err := xml.Marshal(f.caml())
	if err != nil {
		return "", newError(ErrorTypeValidation, fmt.Sprintf("render field %q", f.InternalName()), err)
	}
	return string(out), nil
}

func camlBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
