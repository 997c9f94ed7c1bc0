package adapters

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"kin-go/internal/kin"
)

// maxLineBytes bounds one JSONL record.
const maxLineBytes = 1 << 20

// JSONLAdapter reads observations from a newline-delimited JSON file, one
// Record per line. Other tools drop exports there; kin picks them up.
type JSONLAdapter struct {
	base
	path string
}

var (
	_ kin.Adapter       = (*JSONLAdapter)(nil)
	_ kin.PersonFetcher = (*JSONLAdapter)(nil)
)

// NewJSONLAdapter creates a JSONLAdapter. sourceType applies to records
// that do not name one.
func NewJSONLAdapter(name string, phase int, path string, sourceType kin.SourceType, filter *SenderFilter, region string, logger kin.Logger) *JSONLAdapter {
	return &JSONLAdapter{
		base: base{name: name, phase: phase, sourceType: sourceType, filter: filter, region: region, logger: logger},
		path: path,
	}
}

// Fetch returns the file's observations seen since the cursor. A missing
// file is an empty inbox.
func (a *JSONLAdapter) Fetch(ctx context.Context, since time.Time) ([]kin.Observation, error) {
	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			a.logger.Debug("inbox file missing", "adapter", a.name, "path", a.path)
			return nil, nil
		}
		return nil, fmt.Errorf("opening %s: %w", a.path, err)
	}
	defer f.Close()
	return a.Read(ctx, f, since)
}

// Read decodes observations from r. Malformed lines are logged and skipped.
// On cancellation it returns what it has read so far with the context error.
func (a *JSONLAdapter) Read(ctx context.Context, r io.Reader, since time.Time) ([]kin.Observation, error) {
	var out []kin.Observation
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			a.logger.Warn("skipping malformed line", "adapter", a.name, "line", line, "error", err)
			continue
		}
		if obs, ok := a.accept(rec, since); ok {
			out = append(out, obs)
		}
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("reading %s line %d: %w", a.name, line+1, err)
	}
	return out, nil
}

// FetchForPerson returns every observation in the file carrying one of the
// person's identifiers.
func (a *JSONLAdapter) FetchForPerson(ctx context.Context, p *kin.PersonEntity) ([]kin.Observation, error) {
	all, err := a.Fetch(ctx, time.Time{})
	var out []kin.Observation
	for _, obs := range all {
		if a.mentions(obs, p) {
			out = append(out, obs)
		}
	}
	return out, err
}
