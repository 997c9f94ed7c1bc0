package adapters

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"kin-go/internal/kin"
)

// XLSXAdapter reads a spreadsheet contact export. The first row is a header;
// recognized columns are listed in xlsxColumns. Each data row is one
// contact-export observation.
type XLSXAdapter struct {
	base
	path  string
	sheet string
}

var _ kin.Adapter = (*XLSXAdapter)(nil)

// xlsxColumns maps lowercased header names to record fields.
var xlsxColumns = map[string]string{
	"id":            "id",
	"name":          "name",
	"full name":     "name",
	"display name":  "name",
	"email":         "email",
	"e-mail":        "email",
	"email address": "email",
	"phone":         "phone",
	"mobile":        "phone",
	"phone number":  "phone",
	"company":       "company",
	"organization":  "company",
	"category":      "category",
	"group":         "context",
	"context":       "context",
	"updated":       "updated",
	"updated at":    "updated",
	"modified":      "updated",
}

var xlsxTimeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "01/02/2006", "1/2/06"}

// NewXLSXAdapter creates an XLSXAdapter. An empty sheet reads the first sheet.
func NewXLSXAdapter(name string, phase int, path, sheet string, filter *SenderFilter, region string, logger kin.Logger) *XLSXAdapter {
	return &XLSXAdapter{
		base:  base{name: name, phase: phase, sourceType: kin.SourceContactExport, filter: filter, region: region, logger: logger},
		path:  path,
		sheet: sheet,
	}
}

// Fetch reads the export. A file not modified since the cursor yields nothing.
func (a *XLSXAdapter) Fetch(ctx context.Context, since time.Time) ([]kin.Observation, error) {
	info, err := os.Stat(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			a.logger.Debug("contact export missing", "adapter", a.name, "path", a.path)
			return nil, nil
		}
		return nil, fmt.Errorf("checking %s: %w", a.path, err)
	}
	modified := info.ModTime().UTC()
	if !since.IsZero() && !modified.After(since) {
		return nil, nil
	}

	f, err := excelize.OpenFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", a.path, err)
	}
	defer f.Close()

	sheet := a.sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if sheet == "" {
		return nil, fmt.Errorf("%s has no sheets", a.path)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	header := make(map[string]int)
	for i, h := range rows[0] {
		if field, ok := xlsxColumns[strings.ToLower(strings.TrimSpace(h))]; ok {
			if _, seen := header[field]; !seen {
				header[field] = i
			}
		}
	}

	var out []kin.Observation
	for i, row := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		cell := func(field string) string {
			idx, ok := header[field]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		rec := Record{
			SourceType:  string(kin.SourceContactExport),
			SourceID:    contactID(cell("id"), cell("email"), cell("phone"), cell("name")),
			Name:        cell("name"),
			Email:       cell("email"),
			Phone:       cell("phone"),
			ContextPath: cell("context"),
			ObservedAt:  modified,
			Metadata:    map[string]string{kin.MetaTitle: "Contact export"},
		}
		if rec.SourceID == "" {
			a.logger.Debug("skipping empty row", "adapter", a.name, "row", i+2)
			continue
		}
		if at, ok := parseXLSXTime(cell("updated")); ok {
			rec.ObservedAt = at
		}
		if c := cell("company"); c != "" {
			rec.Metadata[kin.MetaCompany] = c
		}
		if c := kin.ParseCategory(strings.ToLower(cell("category"))); c != kin.CategoryUnknown {
			rec.Metadata[kin.MetaCategory] = string(c)
		}
		// The export is a snapshot: every contact is current as of the file.
		if obs, ok := a.accept(rec, time.Time{}); ok {
			out = append(out, obs)
		}
	}
	return out, nil
}

// contactID derives a stable source ID for a contact row.
func contactID(id, email, phone, name string) string {
	switch {
	case id != "":
		return id
	case email != "":
		return "email:" + strings.ToLower(email)
	case phone != "":
		return "phone:" + phone
	case name != "":
		return "name:" + strings.ToLower(name)
	}
	return ""
}

func parseXLSXTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range xlsxTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
