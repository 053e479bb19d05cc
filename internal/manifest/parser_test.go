package manifest

import (
	"strings"
	"testing"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
	"github.com/ocmod-labs/ocmodctl/internal/patch"
)

const shopManifest = `<?xml version="1.0" encoding="utf-8"?>
<modification>
  <name>Telegram Shop</name>
  <code>module_tgshop</code>
  <version>1.2.0</version>
  <author>Acme</author>
  <link>https://example.com</link>
  <setting key="module_tgshop_status">1</setting>
  <settings>
    <setting key="module_tgshop_title">Shop</setting>
    <setting key="payment_tgpay_total"> 10 </setting>
  </settings>
  <file path="catalog/controller/common/header.php">
    <operation>
      <search position="after"><![CDATA[<head>]]></search>
      <add><![CDATA[<!-- tgshop -->]]></add>
    </operation>
  </file>
</modification>`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(shopManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Name != "Telegram Shop" || m.Code != "module_tgshop" || m.Version != "1.2.0" {
		t.Errorf("identity = %q %q %q", m.Name, m.Code, m.Version)
	}
	if m.Author != "Acme" || m.Link != "https://example.com" {
		t.Errorf("author/link = %q %q", m.Author, m.Link)
	}
	if len(m.Settings) != 3 {
		t.Fatalf("settings = %+v", m.Settings)
	}
	if m.Settings[2].Value != " 10 " {
		t.Errorf("setting value = %q", m.Settings[2].Value)
	}
	if m.Document == nil || len(m.Document.Files) != 1 {
		t.Fatalf("document = %+v", m.Document)
	}
	if m.Document.Name != "Telegram Shop" {
		t.Errorf("document name = %q", m.Document.Name)
	}
	if m.Raw != shopManifest {
		t.Error("raw manifest not preserved")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		xml  string
		want string
	}{
		{"malformed", `<modification><code>x</code>`, "malformed"},
		{"missing code", `<modification><name>x</name></modification>`, "code"},
		{"blank code", `<modification><code>  </code></modification>`, "code"},
		{"code with spaces", `<modification><code>a b</code></modification>`, "<code>: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.xml))
			if !apperr.Is(err, apperr.Validation) {
				t.Fatalf("Parse = %v, want validation error", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateEmbeddedSchemaCompiles(t *testing.T) {
	if _, err := getSchema(); err != nil {
		t.Fatalf("getSchema: %v", err)
	}
}

func TestValidateNamesElements(t *testing.T) {
	m := &Manifest{
		Code:     "ok",
		Settings: []Setting{{Key: "module_x_status", Value: "1"}},
		Document: &patch.Document{Files: []patch.FileTarget{
			{Paths: []string{"admin/a.php"}},
			{},
		}},
	}
	report, err := Validate(m)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.OK() || len(report.Problems) != 1 {
		t.Fatalf("problems = %+v", report.Problems)
	}
	if got := report.Problems[0].Element; got != "<file> #2 path" {
		t.Errorf("element = %q", got)
	}

	m.Document.Files = m.Document.Files[:1]
	report, err = Validate(m)
	if err != nil || !report.OK() {
		t.Errorf("Validate = %+v, %v", report, err)
	}
}

func TestElementAt(t *testing.T) {
	tests := []struct {
		loc  []string
		want string
	}{
		{nil, ""},
		{[]string{"code"}, "<code>"},
		{[]string{"settings", "0", "key"}, "<setting> #1 key"},
		{[]string{"files", "3"}, "<file> #4"},
		{[]string{"install", "type"}, "<install/type>"},
	}
	for _, tt := range tests {
		if got := elementAt(tt.loc); got != tt.want {
			t.Errorf("elementAt(%v) = %q, want %q", tt.loc, got, tt.want)
		}
	}
}

func TestInfer(t *testing.T) {
	tests := []struct {
		name string
		xml  string
		kind string
		code string
	}{
		{
			name: "install directive wins",
			xml: `<modification><code>module_x</code><install type="payment" code="cod"/>
				<file path="admin/controller/extension/module/other.php"/></modification>`,
			kind: "payment", code: "cod",
		},
		{
			name: "controller path",
			xml:  `<modification><code>thing</code><file path="catalog/view/x.twig|admin/controller/extension/shipping/fast.php"/></modification>`,
			kind: "shipping", code: "fast.php",
		},
		{
			name: "code prefix",
			xml:  `<modification><code>module_tg_shop</code></modification>`,
			kind: "module", code: "tg_shop",
		},
		{
			name: "nothing to infer",
			xml:  `<modification><code>Library</code></modification>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse([]byte(tt.xml))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			kind, code := Infer(m)
			if kind != tt.kind || code != tt.code {
				t.Errorf("Infer = %q/%q, want %q/%q", kind, code, tt.kind, tt.code)
			}
		})
	}
}

func TestGroupSettings(t *testing.T) {
	groups := GroupSettings([]Setting{
		{Key: "module_tgshop_status", Value: "1"},
		{Key: "module_tgshop_title", Value: "Shop"},
		{Key: "payment_cod_total", Value: "5"},
		{Key: "Invalid", Value: "x"},
		{Key: "", Value: "y"},
	})
	if len(groups) != 2 {
		t.Fatalf("groups = %v", groups)
	}
	if len(groups["module_tgshop"]) != 2 || groups["payment_cod"]["payment_cod_total"] != "5" {
		t.Errorf("groups = %v", groups)
	}
}
