package indexer

import (
	"context"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// CollectionPrefix starts every per-document collection name.
	CollectionPrefix = "pdf_"

	maxNameStemLength = 40
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// CollectionName derives the collection for one ingestion run from its start time
// and the stored file path. The same inputs always give the same name.
func CollectionName(startedAt time.Time, path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = unsafeNameChars.ReplaceAllString(stem, "_")
	if len(stem) > maxNameStemLength {
		stem = stem[:maxNameStemLength]
	}
	return CollectionPrefix + strconv.FormatInt(startedAt.UnixMilli(), 10) + "_" + stem
}

// ParseCollectionTime extracts the creation timestamp from a name built by
// CollectionName. ok is false for names that do not follow the pattern.
func ParseCollectionTime(name string) (t time.Time, ok bool) {
	rest, found := strings.CutPrefix(name, CollectionPrefix)
	if !found {
		return time.Time{}, false
	}
	msPart, _, found := strings.Cut(rest, "_")
	if !found || msPart == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// CollectionEnsurer creates a collection if it is missing.
type CollectionEnsurer interface {
	EnsureCollection(ctx context.Context, name string) (created bool, err error)
}

// Provisioner makes sure the collection for a run exists exactly once.
type Provisioner struct {
	store CollectionEnsurer
}

func NewProvisioner(store CollectionEnsurer) *Provisioner {
	return &Provisioner{store: store}
}

// Provision ensures the collection exists. created is false when a previous
// attempt of the same job already made it.
func (p *Provisioner) Provision(ctx context.Context, name string) (created bool, err error) {
	return p.store.EnsureCollection(ctx, name)
}
