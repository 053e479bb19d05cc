package manifest

import (
	"encoding/xml"
	"strings"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
	"github.com/ocmod-labs/ocmodctl/internal/patch"
)

type xmlManifest struct {
	Name     string       `xml:"name"`
	Code     string       `xml:"code"`
	Author   string       `xml:"author"`
	Version  string       `xml:"version"`
	Link     string       `xml:"link"`
	Install  *xmlInstall  `xml:"install"`
	Settings []xmlSetting `xml:"setting"`
	Grouped  []xmlSetting `xml:"settings>setting"`
}

type xmlInstall struct {
	Type string `xml:"type,attr"`
	Kind string `xml:"kind,attr"`
	Code string `xml:"code,attr"`
}

type xmlSetting struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// Parse decodes and validates a manifest. Malformed XML and schema
// violations, a missing code included, are validation errors.
func Parse(raw []byte) (*Manifest, error) {
	var x xmlManifest
	if err := xml.Unmarshal(raw, &x); err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "malformed install.xml")
	}

	m := &Manifest{
		Name:    strings.TrimSpace(x.Name),
		Code:    strings.TrimSpace(x.Code),
		Author:  strings.TrimSpace(x.Author),
		Version: strings.TrimSpace(x.Version),
		Link:    strings.TrimSpace(x.Link),
		Raw:     string(raw),
	}
	if x.Install != nil {
		d := &Directive{Type: strings.TrimSpace(x.Install.Type), Code: strings.TrimSpace(x.Install.Code)}
		if d.Type == "" {
			d.Type = strings.TrimSpace(x.Install.Kind)
		}
		m.Install = d
	}
	for _, s := range append(x.Settings, x.Grouped...) {
		m.Settings = append(m.Settings, Setting{Key: strings.TrimSpace(s.Key), Value: s.Value})
	}

	doc, err := patch.ParseDocument(raw)
	if err != nil {
		return nil, err
	}
	if doc.Name == "" {
		doc.Name = m.Name
	}
	m.Document = doc

	report, err := Validate(m)
	if err != nil {
		return nil, err
	}
	if !report.OK() {
		return nil, apperr.New(apperr.Validation, "invalid install.xml: %s", report)
	}
	return m, nil
}
