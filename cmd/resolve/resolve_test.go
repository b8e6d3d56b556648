package resolve

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/birdid/internal/checklist"
	"github.com/tphakala/birdid/internal/conf"
	"github.com/tphakala/birdid/internal/locate"
	"github.com/tphakala/birdid/internal/region"
)

func TestPrint(t *testing.T) {
	t.Parallel()

	entry := checklist.NewEntry(checklist.NewSet("grtit1", "eurrob1"), checklist.SourceSubdivisionAnnual,
		time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)).WithRegion("FI-18", "FI")
	res := &locate.Resolution{Entry: entry, Region: region.MustParse("FI-18"), Country: "FI"}

	var buf bytes.Buffer
	Print(&buf, res, true)
	out := buf.String()
	assert.Contains(t, out, "SUBDIVISION_ANNUAL")
	assert.Contains(t, out, "FI-18")
	assert.Contains(t, out, "eurrob1\ngrtit1")
}

func TestPrintAbsent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	Print(&buf, nil, false)
	assert.Contains(t, buf.String(), "No species list available")
}

func TestCommandRequiresLocation(t *testing.T) {
	t.Parallel()

	cmd := Command(&conf.Settings{})
	cmd.SetArgs([]string{"--lat", "60.1"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.ErrorContains(t, cmd.Execute(), "--lat and --lon are required")
}
