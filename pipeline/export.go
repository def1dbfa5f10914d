package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-build-finder/models"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatDual = "dual"
)

// OutputWriter defines the interface for catalog exports.
type OutputWriter interface {
	Write(items []models.CatalogItem) error
	Close() error
	Validate() error
}

// NewWriter opens a writer for format at path. The dual format writes
// path with .csv and .jsonl extensions.
func NewWriter(format, path string) (OutputWriter, error) {
	switch format {
	case FormatCSV:
		return NewCSVWriter(path)
	case FormatJSON:
		return NewJSONWriter(path)
	case FormatDual:
		base := strings.TrimSuffix(path, filepath.Ext(path))
		csvWriter, err := NewCSVWriter(base + ".csv")
		if err != nil {
			return nil, err
		}
		jsonWriter, err := NewJSONWriter(base + ".jsonl")
		if err != nil {
			csvWriter.Close()
			return nil, err
		}
		return MultiWriter(csvWriter, jsonWriter), nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

type multiWriter []OutputWriter

// MultiWriter fans every call out to writers. Write stops at the first
// failure; Close and Validate visit every writer and join the errors.
func MultiWriter(writers ...OutputWriter) OutputWriter {
	return multiWriter(writers)
}

func (m multiWriter) Write(items []models.CatalogItem) error {
	for _, w := range m {
		if err := w.Write(items); err != nil {
			return err
		}
	}
	return nil
}

func (m multiWriter) Close() error {
	var errs []error
	for _, w := range m {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}

func (m multiWriter) Validate() error {
	var errs []error
	for _, w := range m {
		errs = append(errs, w.Validate())
	}
	return errors.Join(errs...)
}

// Rows flattens a snapshot into export rows; builds appear with category
// build and their total price.
func Rows(s *models.Snapshot) []models.CatalogItem {
	if s == nil {
		return nil
	}
	rows := make([]models.CatalogItem, 0, s.Len())
	rows = append(rows, s.Items...)
	for _, b := range s.Builds {
		rows = append(rows, models.CatalogItem{
			Title:    b.Title,
			Price:    b.TotalPrice,
			URL:      b.URL,
			Source:   b.Source,
			Category: models.CategoryBuild,
			Purpose:  b.Purpose,
			ParsedAt: b.ParsedAt,
		})
	}
	return rows
}

// Export writes every record of s to w and closes it. It returns the number
// of rows written.
func Export(s *models.Snapshot, w OutputWriter) (int, error) {
	rows := Rows(s)
	if err := w.Write(rows); err != nil {
		w.Close()
		return 0, fmt.Errorf("export: %w", err)
	}
	if err := w.Validate(); err != nil {
		w.Close()
		return 0, fmt.Errorf("export: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("export: close: %w", err)
	}
	return len(rows), nil
}
