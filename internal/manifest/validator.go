package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed schema/install.schema.json
var schemaBytes []byte

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
	printer        = message.NewPrinter(language.English)
)

// Problem is one schema violation, located by the install.xml element it
// concerns: "<code>", "<file> #2 path", or empty for the document itself.
type Problem struct {
	Element string
	Message string
}

func (p Problem) String() string {
	if p.Element == "" {
		return p.Message
	}
	return p.Element + ": " + p.Message
}

// Report lists the problems found in one manifest.
type Report struct {
	Problems []Problem
}

// OK reports whether the manifest passed.
func (r *Report) OK() bool {
	return len(r.Problems) == 0
}

func (r *Report) String() string {
	parts := make([]string, len(r.Problems))
	for i, p := range r.Problems {
		parts[i] = p.String()
	}
	return strings.Join(parts, "; ")
}

// schemaView is the JSON shape install.schema.json is written against.
type schemaView struct {
	Name     string          `json:"name"`
	Code     string          `json:"code,omitempty"`
	Author   string          `json:"author"`
	Version  string          `json:"version"`
	Link     string          `json:"link"`
	Install  *installView    `json:"install,omitempty"`
	Settings []settingView   `json:"settings"`
	Files    []fileEntryView `json:"files"`
}

type installView struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

type settingView struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type fileEntryView struct {
	Path       string `json:"path"`
	Operations int    `json:"operations"`
}

// collection names in the view mapped back to their install.xml tags
var viewTags = map[string]string{
	"files":    "file",
	"settings": "setting",
}

func viewOf(m *Manifest) schemaView {
	v := schemaView{
		Name:     m.Name,
		Code:     m.Code,
		Author:   m.Author,
		Version:  m.Version,
		Link:     m.Link,
		Settings: make([]settingView, 0, len(m.Settings)),
		Files:    []fileEntryView{},
	}
	if m.Install != nil {
		v.Install = &installView{Type: m.Install.Type, Code: m.Install.Code}
	}
	for _, s := range m.Settings {
		v.Settings = append(v.Settings, settingView{Key: s.Key, Value: s.Value})
	}
	if m.Document != nil {
		for _, f := range m.Document.Files {
			v.Files = append(v.Files, fileEntryView{
				Path:       strings.Join(f.Paths, "|"),
				Operations: len(f.Operations),
			})
		}
	}
	return v
}

func getSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
		if err != nil {
			compileErr = fmt.Errorf("unmarshaling schema JSON: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("install.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("adding schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile("install.schema.json")
		if compileErr != nil {
			compileErr = fmt.Errorf("compiling schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// Validate checks m against the embedded install.xml schema. The error is
// reserved for a schema that cannot be loaded; a failing manifest yields a
// Report with problems.
func Validate(m *Manifest) (*Report, error) {
	schema, err := getSchema()
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	raw, err := json.Marshal(viewOf(m))
	if err != nil {
		return nil, fmt.Errorf("encoding manifest view: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding manifest view: %w", err)
	}

	err = schema.Validate(inst)
	if err == nil {
		return &Report{}, nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return nil, fmt.Errorf("unexpected validation error type: %w", err)
	}
	return &Report{Problems: problemsOf(ve)}, nil
}

// problemsOf flattens the error tree into its leaves, dropping the
// structural allOf/$ref wrappers and repeats.
func problemsOf(root *jsonschema.ValidationError) []Problem {
	var out []Problem
	seen := map[Problem]bool{}
	stack := []*jsonschema.ValidationError{root}
	for len(stack) > 0 {
		ve := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if len(ve.Causes) > 0 {
			for i := len(ve.Causes) - 1; i >= 0; i-- {
				stack = append(stack, ve.Causes[i])
			}
			continue
		}
		if ve.ErrorKind == nil {
			continue
		}
		kw := ve.ErrorKind.KeywordPath()
		if len(kw) == 0 || kw[len(kw)-1] == "allOf" || kw[len(kw)-1] == "$ref" {
			continue
		}
		p := Problem{
			Element: elementAt(ve.InstanceLocation),
			Message: ve.ErrorKind.LocalizedString(printer),
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = []Problem{{Message: root.Error()}}
	}
	return out
}

// elementAt names a view location the way install.xml spells it:
// ["files","1","path"] is "<file> #2 path", ["code"] is "<code>".
func elementAt(loc []string) string {
	if len(loc) == 0 {
		return ""
	}
	if tag, ok := viewTags[loc[0]]; ok && len(loc) > 1 {
		if n, err := strconv.Atoi(loc[1]); err == nil {
			name := fmt.Sprintf("<%s> #%d", tag, n+1)
			if len(loc) > 2 {
				name += " " + strings.Join(loc[2:], "/")
			}
			return name
		}
	}
	return "<" + strings.Join(loc, "/") + ">"
}
