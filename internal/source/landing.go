// Package source provides the external input collaborators: append-only file
// landing zones and full-snapshot reference sources.
package source

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"lakerun/internal/domain"
)

// LandingZone is an append-only file landing zone read by auto-discovery.
// Files are identified by name; names order records in arrival order, and the
// last consumed name is the checkpoint position tracked by the engine.
type LandingZone interface {
	Name() string
	// List returns all file names currently present, in ascending order.
	List(ctx context.Context) ([]string, error)
	// Read decodes the records of one file.
	Read(ctx context.Context, file string) ([]domain.Row, error)
}

// ReferenceSource is a full-snapshot external table.
type ReferenceSource interface {
	Name() string
	CurrentSnapshot(ctx context.Context) ([]domain.Row, error)
}

// DirLandingZone reads a local directory as a landing zone.
type DirLandingZone struct {
	name   string
	dir    string
	format string
}

// NewDirLandingZone creates a landing zone over a local directory. format is
// "json" (array or newline-delimited objects) or "csv" (header row).
func NewDirLandingZone(name, dir, format string) *DirLandingZone {
	return &DirLandingZone{name: name, dir: dir, format: format}
}

func (z *DirLandingZone) Name() string { return z.name }

// List returns the data file names in the directory, sorted ascending.
func (z *DirLandingZone) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(z.dir)
	if err != nil {
		return nil, &domain.UpstreamUnavailableError{Upstream: z.name, Cause: err}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Read decodes one file's records.
func (z *DirLandingZone) Read(ctx context.Context, file string) ([]domain.Row, error) {
	f, err := os.Open(filepath.Join(z.dir, file)) //nolint:gosec // file names come from List
	if err != nil {
		return nil, &domain.UpstreamUnavailableError{Upstream: z.name, Cause: err}
	}
	defer f.Close() //nolint:errcheck

	rows, err := decodeRecords(f, z.format)
	if err != nil {
		return nil, domain.ErrValidation("landing zone %q: decode %s: %v", z.name, file, err)
	}
	return rows, nil
}

// FileReference reads a single local file as a full reference snapshot.
type FileReference struct {
	name   string
	path   string
	format string
}

// NewFileReference creates a reference source over a local file.
func NewFileReference(name, path, format string) *FileReference {
	return &FileReference{name: name, path: path, format: format}
}

func (r *FileReference) Name() string { return r.name }

// CurrentSnapshot reads the full current state of the reference file.
func (r *FileReference) CurrentSnapshot(ctx context.Context) ([]domain.Row, error) {
	f, err := os.Open(r.path) //nolint:gosec // path comes from the pipeline definition
	if err != nil {
		return nil, &domain.UpstreamUnavailableError{Upstream: r.name, Cause: err}
	}
	defer f.Close() //nolint:errcheck

	rows, err := decodeRecords(f, r.format)
	if err != nil {
		return nil, domain.ErrValidation("reference %q: decode: %v", r.name, err)
	}
	return rows, nil
}

var (
	_ LandingZone     = (*DirLandingZone)(nil)
	_ ReferenceSource = (*FileReference)(nil)
)
