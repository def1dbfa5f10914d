package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aluiziolira/go-build-finder/models"
	"github.com/aluiziolira/go-build-finder/parser"
)

var csvHeader = []string{"title", "price", "tier", "category", "purpose", "source", "url", "parsed_at"}

// exportFile owns one export file. Format writers supply the record codec.
type exportFile struct {
	mu   sync.Mutex
	kind string
	file *os.File
	buf  *bufio.Writer
	rows int
}

func openExportFile(kind, filename string) (*exportFile, error) {
	if dir := filepath.Dir(filename); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create %s file: %w", kind, err)
	}
	return &exportFile{kind: kind, file: f, buf: bufio.NewWriter(f)}, nil
}

// writeBatch encodes items under the lock and flushes them to disk.
func (e *exportFile) writeBatch(items []models.CatalogItem, encode func(models.CatalogItem) error, flush func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, item := range items {
		if err := encode(item); err != nil {
			return fmt.Errorf("encode %s record: %w", e.kind, err)
		}
		e.rows++
	}
	if flush != nil {
		if err := flush(); err != nil {
			return fmt.Errorf("flush %s records: %w", e.kind, err)
		}
	}
	if err := e.buf.Flush(); err != nil {
		return fmt.Errorf("flush %s file: %w", e.kind, err)
	}
	return nil
}

func (e *exportFile) close(flush func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if flush != nil {
		if err := flush(); err != nil {
			e.file.Close()
			return fmt.Errorf("flush %s writer: %w", e.kind, err)
		}
	}
	if err := e.buf.Flush(); err != nil {
		e.file.Close()
		return fmt.Errorf("flush %s file: %w", e.kind, err)
	}
	return e.file.Close()
}

// validate rejects an export that received no records.
func (e *exportFile) validate() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rows == 0 {
		return fmt.Errorf("%s export has no records", e.kind)
	}
	info, err := e.file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s file: %w", e.kind, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s file is empty", e.kind)
	}
	return nil
}

// CSVWriter exports catalog rows with a price tier column.
type CSVWriter struct {
	out *exportFile
	csv *csv.Writer
}

// NewCSVWriter creates filename and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	out, err := openExportFile("csv", filename)
	if err != nil {
		return nil, err
	}
	w := &CSVWriter{out: out, csv: csv.NewWriter(out.buf)}
	if err := w.csv.Write(csvHeader); err != nil {
		out.file.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return w, nil
}

func (w *CSVWriter) Write(items []models.CatalogItem) error {
	return w.out.writeBatch(items, w.record, w.flush)
}

func (w *CSVWriter) Close() error { return w.out.close(w.flush) }

func (w *CSVWriter) Validate() error { return w.out.validate() }

func (w *CSVWriter) record(item models.CatalogItem) error {
	return w.csv.Write([]string{
		item.Title,
		strconv.Itoa(item.Price),
		parser.PriceTier(item.Price).Name,
		string(item.Category),
		string(item.Purpose),
		string(item.Source),
		item.URL,
		item.ParsedAt.Format(time.RFC3339),
	})
}

func (w *CSVWriter) flush() error {
	w.csv.Flush()
	return w.csv.Error()
}

// JSONWriter exports one JSON object per line.
type JSONWriter struct {
	out *exportFile
	enc *json.Encoder
}

// NewJSONWriter creates filename.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	out, err := openExportFile("json", filename)
	if err != nil {
		return nil, err
	}
	return &JSONWriter{out: out, enc: json.NewEncoder(out.buf)}, nil
}

func (w *JSONWriter) Write(items []models.CatalogItem) error {
	return w.out.writeBatch(items, func(item models.CatalogItem) error { return w.enc.Encode(item) }, nil)
}

func (w *JSONWriter) Close() error { return w.out.close(nil) }

func (w *JSONWriter) Validate() error { return w.out.validate() }
