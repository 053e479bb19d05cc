package registry

import (
	"context"
	"testing"
)

type mapSettings map[string]map[string]string

func (m mapSettings) GetSetting(_ context.Context, group string) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range m[group] {
		out[k] = v
	}
	return out, nil
}

func (m mapSettings) EditSetting(_ context.Context, group string, values map[string]string) error {
	m[group] = values
	return nil
}

func TestMergeSettings(t *testing.T) {
	s := mapSettings{"module_shop": {"module_shop_status": "0", "module_shop_title": "Shop"}}

	err := MergeSettings(context.Background(), s, "module_shop", map[string]string{
		"module_shop_status": "1",
		"module_shop_limit":  "10",
	})
	if err != nil {
		t.Fatalf("MergeSettings: %v", err)
	}

	got := s["module_shop"]
	want := map[string]string{"module_shop_status": "1", "module_shop_title": "Shop", "module_shop_limit": "10"}
	if len(got) != len(want) {
		t.Fatalf("merged = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}
