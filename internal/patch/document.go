package patch

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
)

type xmlDocument struct {
	Name   string    `xml:"name"`
	Code   string    `xml:"code"`
	Files  []xmlFile `xml:"file"`
	Nested []xmlFile `xml:"modification>file"`
}

type xmlFile struct {
	Path       string         `xml:"path,attr"`
	Operations []xmlOperation `xml:"operation"`
}

type xmlOperation struct {
	Search  *xmlText `xml:"search"`
	Add     *xmlText `xml:"add"`
	Replace *xmlText `xml:"replace"`
}

// xmlText is the text content of an operation element. Whitespace-only
// text runs between nodes are dropped; CDATA and any run with visible
// characters are kept verbatim.
type xmlText struct {
	Position string
	Index    string
	Text     string
}

func (t *xmlText) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "position":
			t.Position = strings.TrimSpace(a.Value)
		case "index":
			t.Index = strings.TrimSpace(a.Value)
		}
	}

	var b strings.Builder
	depth := 0
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch tt := tok.(type) {
		case xml.CharData:
			if len(bytes.TrimSpace(tt)) > 0 {
				b.Write(tt)
			}
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 {
				t.Text = b.String()
				return nil
			}
			depth--
		}
	}
}

// ParseDocument parses a patch document. Operations that carry neither an
// add nor a replace element are dropped.
func ParseDocument(raw []byte) (*Document, error) {
	var x xmlDocument
	if err := xml.Unmarshal(raw, &x); err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "malformed patch XML")
	}

	doc := &Document{
		Name: strings.TrimSpace(x.Name),
		Code: strings.TrimSpace(x.Code),
	}
	for _, f := range append(x.Files, x.Nested...) {
		target := FileTarget{Paths: splitPaths(f.Path)}
		for _, o := range f.Operations {
			if op, ok := o.operation(); ok {
				target.Operations = append(target.Operations, op)
			}
		}
		if len(target.Paths) > 0 {
			doc.Files = append(doc.Files, target)
		}
	}
	return doc, nil
}

// splitPaths splits a path attribute on "|" and normalizes separators.
func splitPaths(attr string) []string {
	attr = strings.ReplaceAll(attr, "\\", "/")
	var paths []string
	for _, p := range strings.Split(attr, "|") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

func (o xmlOperation) operation() (Operation, bool) {
	if o.Search == nil {
		return Operation{}, false
	}
	op := Operation{Search: o.Search.Text}

	switch {
	case o.Add != nil:
		// position and index are read from <search> only. A missing or
		// unparsable index is 0; an empty position leaves the buffer alone.
		op.Kind = KindAdd
		op.Payload = o.Add.Text
		op.Position = Position(o.Search.Position)
		n, err := strconv.Atoi(o.Search.Index)
		if err != nil {
			n = 0
		}
		op.Index = &n
	case o.Replace != nil:
		op.Kind = KindReplace
		op.Position = PositionReplace
		op.Payload = o.Replace.Text
	default:
		return Operation{}, false
	}
	return op, true
}
