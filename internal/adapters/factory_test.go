package adapters

import (
	"testing"

	"kin-go/internal/config"
	"kin-go/internal/kin"
)

func TestNewAdapterFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.AdapterConfig
		want    string
		wantErr bool
	}{
		{name: "jsonl", cfg: config.AdapterConfig{Type: "jsonl", Name: "inbox", Path: "/tmp/inbox.jsonl"}, want: "*adapters.JSONLAdapter"},
		{name: "xlsx", cfg: config.AdapterConfig{Type: "xlsx", Name: "contacts", Path: "/tmp/c.xlsx"}, want: "*adapters.XLSXAdapter"},
		{name: "http", cfg: config.AdapterConfig{Type: "http", Name: "feed", URL: "http://localhost:9000", SourceType: "slack"}, want: "*adapters.HTTPAdapter"},
		{name: "jsonl without path", cfg: config.AdapterConfig{Type: "jsonl", Name: "inbox"}, wantErr: true},
		{name: "http without url", cfg: config.AdapterConfig{Type: "http", Name: "feed"}, wantErr: true},
		{name: "unknown source type", cfg: config.AdapterConfig{Type: "jsonl", Name: "inbox", Path: "x", SourceType: "fax"}, wantErr: true},
		{name: "unknown type", cfg: config.AdapterConfig{Type: "imap", Name: "mail"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, err := NewAdapterFromConfig(tt.cfg, "US", kin.NewNopLogger())
			if tt.wantErr {
				if err == nil {
					t.Errorf("NewAdapterFromConfig() expected error, got %T", a)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewAdapterFromConfig() error = %v", err)
			}
			if got := typeName(a); got != tt.want {
				t.Errorf("type = %s, want %s", got, tt.want)
			}
			if a.Name() != tt.cfg.Name {
				t.Errorf("Name() = %s, want %s", a.Name(), tt.cfg.Name)
			}
		})
	}
}

func TestNewAdaptersFromConfig(t *testing.T) {
	t.Parallel()
	cfgs := []config.AdapterConfig{
		{Type: "jsonl", Name: "inbox", Path: "a", Phase: 1},
		{Type: "xlsx", Name: "contacts", Path: "b"},
	}
	got, err := NewAdaptersFromConfig(cfgs, "US", kin.NewNopLogger())
	if err != nil {
		t.Fatalf("NewAdaptersFromConfig() error = %v", err)
	}
	if len(got) != 2 || got[0].Phase() != 1 || got[1].Phase() != 0 {
		t.Errorf("adapters = %v", got)
	}

	cfgs = append(cfgs, config.AdapterConfig{Type: "jsonl", Name: "inbox", Path: "c"})
	if _, err := NewAdaptersFromConfig(cfgs, "US", kin.NewNopLogger()); err == nil {
		t.Error("expected error for duplicate adapter name")
	}
}

func typeName(a kin.Adapter) string {
	switch a.(type) {
	case *JSONLAdapter:
		return "*adapters.JSONLAdapter"
	case *XLSXAdapter:
		return "*adapters.XLSXAdapter"
	case *HTTPAdapter:
		return "*adapters.HTTPAdapter"
	}
	return "unknown"
}
