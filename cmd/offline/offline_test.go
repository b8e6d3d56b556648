package offline

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/birdid/internal/checklist/offline"
	"github.com/tphakala/birdid/internal/errors"
)

func TestPrintReport(t *testing.T) {
	t.Parallel()

	report := &offline.Report{
		Index: &offline.Index{Countries: map[string]offline.CountryInfo{
			"FI": {SpeciesCount: 512},
		}},
		Written: []string{"FI"},
		Skipped: []string{"AQ"},
		Failed:  map[string]error{"SE": errors.NewStd("rate limited")},
	}

	var buf bytes.Buffer
	PrintReport(&buf, report)
	out := buf.String()
	assert.Contains(t, out, "512")
	assert.Contains(t, out, "empty")
	assert.Contains(t, out, "failed: rate limited")
}

func TestPrintIndex(t *testing.T) {
	t.Parallel()

	index := &offline.Index{
		GeneratedAt: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
		Countries: map[string]offline.CountryInfo{
			"SE": {SpeciesCount: 480, Name: "Sweden", UpdatedAt: time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)},
			"FI": {SpeciesCount: 512, Name: "Finland", UpdatedAt: time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)},
		},
	}

	var buf bytes.Buffer
	PrintIndex(&buf, index)
	out := buf.String()
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("Finland")), bytes.Index(buf.Bytes(), []byte("Sweden")))
	assert.Contains(t, out, "2026-04-30")
	assert.Contains(t, out, "Generated 2026-05-01 08:00:00")
}
