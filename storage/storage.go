// Package storage implements the physical time series stores: an in-memory
// map, a columnar parquet file store, and an embedded DuckDB store, all
// behind one Backend contract.
package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gridkit/tsstore/errors"
	"github.com/gridkit/tsstore/timeseries"
)

// Storage kind discriminators recorded in descriptors.
const (
	KindMemory  = "memory"
	KindParquet = "parquet"
	KindDuckDB  = "duckdb"
)

// Descriptor is the record written during serialization that lets
// deserialization reconstruct the correct backend. Directory is relative to
// a parent directory the embedding system declares; Filename is the full
// path of a database snapshot.
type Descriptor struct {
	StorageKind string `json:"storage_kind" yaml:"storage_kind"`
	Filename    string `json:"filename,omitempty" yaml:"filename,omitempty"`
	Directory   string `json:"directory,omitempty" yaml:"directory,omitempty"`
	EngineName  string `json:"engine_name,omitempty" yaml:"engine_name,omitempty"`
}

// Backend is one physical storage medium. A backend is owned by exactly one
// manager at a time and is swapped only through the serialize/deserialize
// protocol.
type Backend interface {
	// AddTimeSeries physically stores the array. Idempotent per physical
	// id: if an array with that id is already stored, the call is a
	// silent no-op, because multiple metadata records may legitimately
	// reference one physical array.
	AddTimeSeries(ctx context.Context, md timeseries.Metadata, s timeseries.Series) error

	// GetTimeSeries returns the stored array, or the requested sub-range.
	// A zero start means the stored initial time; a zero length means all
	// samples from the start. Returns a not-stored error if the id
	// referenced by md is absent, and a consistency error if the medium
	// returns a row count different from the computed required length.
	GetTimeSeries(ctx context.Context, md timeseries.Metadata, start time.Time, length int) (timeseries.Series, error)

	// RemoveTimeSeries deletes the physical array. Returns a not-stored
	// error if the id is absent.
	RemoveTimeSeries(ctx context.Context, id int64) error

	// Serialize snapshots the physical medium under dst and fills in the
	// descriptor. The live store is never mutated or moved. A non-empty
	// src overrides the copy source for media that snapshot directories.
	Serialize(ctx context.Context, desc *Descriptor, dst, src string) error

	// Directory returns the directory containing the physical medium, or
	// "" for media with no filesystem representation.
	Directory() string

	// Close releases the backend, deleting any temporary media it owns.
	Close() error
}

// requireSingle rejects unsupported series subtypes.
func requireSingle(s timeseries.Series) (*timeseries.SingleTimeSeries, error) {
	sts, ok := s.(*timeseries.SingleTimeSeries)
	if !ok {
		return nil, errors.NewUnimplementedType("time series type", s)
	}
	return sts, nil
}

// requireSingleMetadata rejects unsupported metadata subtypes.
func requireSingleMetadata(md timeseries.Metadata) (*timeseries.SingleTimeSeriesMetadata, error) {
	smd, ok := md.(*timeseries.SingleTimeSeriesMetadata)
	if !ok {
		return nil, errors.NewUnimplementedType("time series metadata type", md)
	}
	return smd, nil
}

// tempPath reserves a unique file name under dir without creating the file,
// so an engine that refuses to open pre-existing files can create it itself.
func tempPath(dir, pattern string) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	if err := os.Remove(name); err != nil {
		return "", err
	}
	return name, nil
}

// copyFile copies a regular file, creating dst's directory if needed.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// copyDir copies the regular files directly under src into dst.
func copyDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := copyFile(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
