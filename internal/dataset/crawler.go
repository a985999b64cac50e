// Package dataset walks a dataset root and turns image filenames into sample descriptors.
package dataset

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/personsearch/internal/models"
	"github.com/hyperjump/personsearch/internal/pointid"
)

// FieldDelimiter separates metadata fields in a filename stem, e.g. "12-3-2-0041.jpg".
const FieldDelimiter = "-"

// MalformedSampleError reports a filename whose stem does not split into the expected fields.
type MalformedSampleError struct {
	Path   string
	Fields int
}

func (e *MalformedSampleError) Error() string {
	return fmt.Sprintf("malformed sample %s: expected %d %q-delimited fields, got %d",
		filepath.Base(e.Path), len(models.MetadataKeys), FieldDelimiter, e.Fields)
}

// Crawler lists the samples of a dataset root. It holds no cursor: every Crawl re-reads the directory.
type Crawler struct {
	imagesSubdir string
	extensions   map[string]bool
	logger       *zap.Logger
}

// Option configures the Crawler.
type Option func(*Crawler)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Crawler) {
		c.logger = logger
	}
}

// WithImagesSubdir sets the directory under the root that holds the images. Default "train".
func WithImagesSubdir(dir string) Option {
	return func(c *Crawler) {
		c.imagesSubdir = dir
	}
}

// WithExtensions restricts the crawl to files with these extensions (case-insensitive).
// An empty list accepts every file.
func WithExtensions(exts []string) Option {
	return func(c *Crawler) {
		c.extensions = make(map[string]bool, len(exts))
		for _, ext := range exts {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			c.extensions[ext] = true
		}
	}
}

// New creates a Crawler.
func New(opts ...Option) *Crawler {
	c := &Crawler{imagesSubdir: "train", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Crawl yields one descriptor per image directly under <root>/<images subdir>, in lexical filename order.
// A malformed filename is yielded as a *MalformedSampleError and the crawl continues. Failing to read
// the directory is yielded once as a plain error and ends the sequence.
// The sequence is lazy and may be ranged over more than once.
func (c *Crawler) Crawl(root, datasetName string) iter.Seq2[models.SampleDescriptor, error] {
	return func(yield func(models.SampleDescriptor, error) bool) {
		dir := filepath.Join(pointid.Canonical(root), c.imagesSubdir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			yield(models.SampleDescriptor{}, fmt.Errorf("failed to read dataset directory: %w", err))
			return
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || strings.HasPrefix(name, ".") {
				continue
			}
			ext := filepath.Ext(name)
			if len(c.extensions) > 0 && !c.extensions[strings.ToLower(ext)] {
				c.logger.Debug("skipping non-image file", zap.String("name", name))
				continue
			}
			path := filepath.Join(dir, name)
			metadata, err := ParseStem(strings.TrimSuffix(name, ext))
			if err != nil {
				c.logger.Warn("malformed sample", zap.String("path", path), zap.Error(err))
				if !yield(models.SampleDescriptor{SourcePath: path, DatasetName: datasetName}, &MalformedSampleError{Path: path, Fields: fieldCount(name, ext)}) {
					return
				}
				continue
			}
			if !yield(models.SampleDescriptor{SourcePath: path, DatasetName: datasetName, Metadata: metadata}, nil) {
				return
			}
		}
	}
}

// ParseStem splits a filename stem into the recognized metadata keys.
// Exactly len(models.MetadataKeys) non-empty fields are required.
func ParseStem(stem string) (map[string]string, error) {
	fields := strings.Split(stem, FieldDelimiter)
	if len(fields) != len(models.MetadataKeys) {
		return nil, fmt.Errorf("expected %d fields, got %d", len(models.MetadataKeys), len(fields))
	}
	metadata := make(map[string]string, len(fields))
	for i, key := range models.MetadataKeys {
		if fields[i] == "" {
			return nil, fmt.Errorf("empty %s", key)
		}
		metadata[key] = fields[i]
	}
	return metadata, nil
}

func fieldCount(name, ext string) int {
	return len(strings.Split(strings.TrimSuffix(name, ext), FieldDelimiter))
}

// Collect drains seq into valid descriptors and per-entry errors.
// It stops at the first error that is not a *MalformedSampleError and returns it.
func Collect(seq iter.Seq2[models.SampleDescriptor, error]) ([]models.SampleDescriptor, []*MalformedSampleError, error) {
	var samples []models.SampleDescriptor
	var malformed []*MalformedSampleError
	for s, err := range seq {
		if err != nil {
			var m *MalformedSampleError
			if errors.As(err, &m) {
				malformed = append(malformed, m)
				continue
			}
			return samples, malformed, err
		}
		samples = append(samples, s)
	}
	return samples, malformed, nil
}
