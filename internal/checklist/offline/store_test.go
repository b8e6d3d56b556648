package offline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdid/internal/checklist"
	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/region"
)

var fixedTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func writeFixture(t *testing.T, dir string, index Index, lists map[string][]checklist.SpeciesCode) {
	t.Helper()

	for cc, codes := range lists {
		entry := checklist.NewEntry(checklist.NewSet(codes...), checklist.SourceCountryOffline, fixedTime).WithRegion(cc, cc)
		data, err := json.Marshal(entry)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, cc+".json"), data, 0o600))
	}
	data, err := json.Marshal(index)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFile), data, 0o600))
}

func TestLookupReturnsExactFileContents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFixture(t, dir, Index{
		GeneratedAt: fixedTime,
		Countries:   map[string]CountryInfo{"FI": {SpeciesCount: 3, Name: "Finland"}},
	}, map[string][]checklist.SpeciesCode{"FI": {"eurrob1", "grtit1", "whtsea1"}})

	store := NewStore(dir)
	entry, err := store.Lookup(t.Context(), region.MustParse("FI-18"))
	require.NoError(t, err)

	assert.True(t, entry.SpeciesCodes.Equal(checklist.NewSet("eurrob1", "grtit1", "whtsea1")))
	assert.Equal(t, 3, entry.SpeciesCount)
	assert.Equal(t, checklist.SourceCountryOffline, entry.DataSource)
	assert.Equal(t, "FI", entry.Country)
}

func TestLookupErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing index", func(t *testing.T) {
		t.Parallel()
		_, err := NewStore(t.TempDir()).Lookup(t.Context(), region.MustParse("FI"))
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	})

	t.Run("country not indexed", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		// The file exists but the index does not list it, so it is not consulted.
		writeFixture(t, dir, Index{Countries: map[string]CountryInfo{}},
			map[string][]checklist.SpeciesCode{"SE": {"a"}})
		_, err := NewStore(dir).Lookup(t.Context(), region.MustParse("SE"))
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("indexed but file missing", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeFixture(t, dir, Index{Countries: map[string]CountryInfo{"NO": {SpeciesCount: 2}}}, nil)
		_, err := NewStore(dir).Lookup(t.Context(), region.MustParse("NO"))
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("indexed as empty", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeFixture(t, dir, Index{Countries: map[string]CountryInfo{"AQ": {SpeciesCount: 0}}},
			map[string][]checklist.SpeciesCode{"AQ": {}})
		_, err := NewStore(dir).Lookup(t.Context(), region.MustParse("AQ"))
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("corrupt country file", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeFixture(t, dir, Index{Countries: map[string]CountryInfo{"DK": {SpeciesCount: 2}}}, nil)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "DK.json"), []byte(`{"speciesCodes":["a"],"speciesCount":5}`), 0o600))
		_, err := NewStore(dir).Lookup(t.Context(), region.MustParse("DK"))
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
	})

	t.Run("corrupt index", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFile), []byte("{"), 0o600))
		_, err := NewStore(dir).Lookup(t.Context(), region.MustParse("DK"))
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
	})

	t.Run("zero region", func(t *testing.T) {
		t.Parallel()
		_, err := NewStore(t.TempDir()).Lookup(t.Context(), region.ID{})
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})
}

func TestIndexReloadsWhenFileChanges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFixture(t, dir, Index{Countries: map[string]CountryInfo{}}, nil)
	store := NewStore(dir)

	index, err := store.Index()
	require.NoError(t, err)
	assert.False(t, index.Has("FI"))

	writeFixture(t, dir, Index{Countries: map[string]CountryInfo{"FI": {SpeciesCount: 1}}},
		map[string][]checklist.SpeciesCode{"FI": {"eurrob1"}})

	index, err = store.Index()
	require.NoError(t, err)
	assert.True(t, index.Has("FI"))
}
