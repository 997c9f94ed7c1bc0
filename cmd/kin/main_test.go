package main

import (
	"errors"
	"testing"
	"time"

	"kin-go/internal/kin"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Time
		wantErr bool
	}{
		{raw: "", want: time.Time{}},
		{raw: "2024-03-01", want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{raw: "2024-03-01T10:00:00+02:00", want: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)},
		{raw: "March 1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseDate(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, kin.ErrInput) {
					t.Errorf("parseDate(%q) error = %v, want ErrInput", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDate(%q) error = %v", tt.raw, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseDate(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCommandTree(t *testing.T) {
	paths := [][]string{
		{"config", "init"},
		{"config", "list"},
		{"keys", "init"},
		{"sync"},
		{"sync", "relationships"},
		{"sync", "strengths"},
		{"ingest"},
		{"resolve"},
		{"people"},
		{"people", "refresh"},
		{"show"},
		{"timeline"},
		{"relationship"},
		{"stats"},
		{"pending", "list"},
		{"pending", "confirm"},
		{"pending", "reject"},
		{"history"},
		{"serve"},
		{"archive", "push"},
		{"archive", "restore"},
	}
	for _, p := range paths {
		cmd, rest, err := rootCmd.Find(p)
		if err != nil || len(rest) != 0 || cmd.Name() != p[len(p)-1] {
			t.Errorf("Find(%v) = %v, %v, %v", p, cmd.Name(), rest, err)
		}
	}
}
