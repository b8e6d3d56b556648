// Package taxonomy maps classifier class identifiers to eBird species codes.
package taxonomy

import (
	"context"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/birdid/internal/checklist"
	"github.com/tphakala/birdid/internal/ebird"
	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/logger"
	"github.com/tphakala/birdid/internal/textutil"
)

// labelSeparator splits "Scientific name_Common name" class labels.
const labelSeparator = "_"

// Source supplies the eBird taxonomy. *ebird.Client satisfies it.
type Source interface {
	Taxonomy(ctx context.Context, locale string) ([]ebird.TaxonomyEntry, error)
}

// Species describes one taxon known to the index.
type Species struct {
	Code           checklist.SpeciesCode
	ScientificName string
	CommonName     string
}

// Index resolves class identifiers to species codes. Safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	explicit map[string]checklist.SpeciesCode // class id -> code, consulted first
	byName   map[string]checklist.SpeciesCode // folded scientific or common name -> code
	species  map[checklist.SpeciesCode]Species
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		explicit: map[string]checklist.SpeciesCode{},
		byName:   map[string]checklist.SpeciesCode{},
		species:  map[checklist.SpeciesCode]Species{},
	}
}

// FromEntries builds an index from eBird taxonomy entries. Subspecies and
// forms that report as a species resolve to that species.
func FromEntries(entries []ebird.TaxonomyEntry) *Index {
	ix := NewIndex()
	ix.AddEntries(entries)
	return ix
}

// Load fetches the taxonomy from source and indexes it.
func Load(ctx context.Context, source Source, locale string) (*Index, error) {
	entries, err := source.Taxonomy(ctx, locale)
	if err != nil {
		return nil, err
	}
	ix := FromEntries(entries)
	GetLogger().Info("species taxonomy loaded",
		logger.Int("entries", len(entries)),
		logger.Int("species", ix.Len()))
	return ix, nil
}

// AddEntries merges taxonomy entries into the index.
func (ix *Index) AddEntries(entries []ebird.TaxonomyEntry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for i := range entries {
		e := &entries[i]
		if e.SpeciesCode == "" {
			continue
		}
		code := e.SpeciesCode
		if e.ReportAs != "" {
			code = checklist.SpeciesCode(e.ReportAs)
		}
		if e.Category == "species" || e.ReportAs == "" {
			ix.species[e.SpeciesCode] = Species{
				Code:           e.SpeciesCode,
				ScientificName: e.ScientificName,
				CommonName:     e.CommonName,
			}
		}
		// First writer wins so a species is not shadowed by a later form.
		for _, name := range []string{e.ScientificName, e.CommonName, string(e.SpeciesCode)} {
			if key := textutil.Fold(name); key != "" {
				if _, exists := ix.byName[key]; !exists {
					ix.byName[key] = code
				}
			}
		}
	}
}

// Map pins a class identifier to a code, overriding name matching.
func (ix *Index) Map(classID string, code checklist.SpeciesCode) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.explicit[classID] = code
}

// LoadMappingFile reads a YAML map of class identifier to species code.
func (ix *Index) LoadMappingFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied mapping file
	if err != nil {
		return errors.New(err).
			Component("taxonomy").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	var mapping map[string]string
	if err := yaml.Unmarshal(data, &mapping); err != nil {
		return errors.New(err).
			Component("taxonomy").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}
	for classID, code := range mapping {
		if code != "" {
			ix.Map(classID, checklist.SpeciesCode(code))
		}
	}
	return nil
}

// Code returns the species code for a classifier class identifier. It accepts
// an explicitly mapped id, a species code, a scientific or common name, or a
// "Scientific name_Common name" label.
func (ix *Index) Code(classID string) (checklist.SpeciesCode, bool) {
	if ix == nil || strings.TrimSpace(classID) == "" {
		return "", false
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if code, ok := ix.explicit[classID]; ok {
		return code, true
	}
	if code, ok := ix.byName[textutil.Fold(classID)]; ok {
		return code, true
	}
	if sci, common, found := strings.Cut(classID, labelSeparator); found {
		if code, ok := ix.byName[textutil.Fold(sci)]; ok {
			return code, true
		}
		if code, ok := ix.byName[textutil.Fold(common)]; ok {
			return code, true
		}
	}
	return "", false
}

// Species returns the names recorded for code.
func (ix *Index) Species(code checklist.SpeciesCode) (Species, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	s, ok := ix.species[code]
	return s, ok
}

// Len returns the number of species in the index.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.species)
}


var (
	pkgLogger  logger.Logger
	loggerOnce sync.Once
)

// GetLogger returns the taxonomy package logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		pkgLogger = logger.Global().Module("taxonomy")
	})
	return pkgLogger
}
