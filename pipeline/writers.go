package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-pnp-cards/models"
)

// Run history files kept in the card directory.
const (
	RunsCSV   = "runs.csv"
	RunsJSONL = "runs.jsonl"
)

var runHeader = []string{
	"start_time", "duration_ms", "products", "cards_cut", "document", "mosaics",
	"requests", "cache_hits", "cache_misses", "tool_calls", "stages_built", "stages_skipped",
}

// CSVWriter appends run results to a CSV file.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter opens filename for appending and writes the header row when
// the file is new.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	f, size, err := openAppend(filename)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if size == 0 {
		if err := writer.Write(runHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("flush csv header: %w", err)
		}
	}

	return &CSVWriter{file: f, writer: writer}, nil
}

// Write appends one row per result.
func (cw *CSVWriter) Write(results ...*models.RunResult) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, r := range results {
		record := []string{
			r.StartTime.Format(time.RFC3339),
			strconv.FormatInt(r.Duration().Milliseconds(), 10),
			strings.Join(r.Products, " "),
			strconv.Itoa(r.CardsCut),
			r.Document,
			strings.Join(r.Mosaics, " "),
			strconv.Itoa(r.Requests),
			strconv.Itoa(r.CacheHits),
			strconv.Itoa(r.CacheMiss),
			strconv.Itoa(r.ToolCalls),
			strconv.Itoa(r.StagesRun),
			strconv.Itoa(r.StagesSkip),
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// JSONWriter appends newline-delimited JSON run results.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter opens filename for appending.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	f, _, err := openAppend(filename)
	if err != nil {
		return nil, fmt.Errorf("open json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends results in JSONL format.
func (jw *JSONWriter) Write(results ...*models.RunResult) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, r := range results {
		if err := jw.encoder.Encode(r); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}
	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// AppendRunLog records result in both run history files under dir.
func AppendRunLog(dir string, result *models.RunResult) error {
	csvWriter, err := NewCSVWriter(filepath.Join(dir, RunsCSV))
	if err != nil {
		return err
	}
	jsonWriter, err := NewJSONWriter(filepath.Join(dir, RunsJSONL))
	if err != nil {
		csvWriter.Close()
		return err
	}

	var errs []error
	if err := csvWriter.Write(result); err != nil {
		errs = append(errs, fmt.Errorf("csv write failed: %w", err))
	}
	if err := jsonWriter.Write(result); err != nil {
		errs = append(errs, fmt.Errorf("json write failed: %w", err))
	}
	if err := csvWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("csv close failed: %w", err))
	}
	if err := jsonWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("json close failed: %w", err))
	}
	return errors.Join(errs...)
}

func openAppend(filename string) (*os.File, int64, error) {
	if dir := filepath.Dir(filename); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, 0, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}
