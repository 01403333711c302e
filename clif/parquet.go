package clif

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// readParquet loads every row of a parquet file into memory. The CLIF
// tables for one site fit comfortably; the batch buffer just bounds the
// per-call decode size.
func readParquet[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[T](f)
	defer reader.Close()

	rows := make([]T, 0, reader.NumRows())
	buf := make([]T, 8192)
	for {
		n, err := reader.Read(buf)
		rows = append(rows, buf[:n]...)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("read parquet %s: %w", path, err)
		}
	}
	return rows, nil
}

const writerFlushInterval = 50_000

// Writer writes tagged row structs to a parquet file with Snappy
// compression, flushing row groups periodically to bound memory.
type Writer[T any] struct {
	file   *os.File
	writer *parquet.GenericWriter[T]
	count  int
}

// NewWriter creates a parquet writer at path.
func NewWriter[T any](path string) (*Writer[T], error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create parquet %s: %w", path, err)
	}
	return &Writer[T]{
		file:   file,
		writer: parquet.NewGenericWriter[T](file, parquet.Compression(&parquet.Snappy)),
	}, nil
}

// Write appends rows to the file.
func (w *Writer[T]) Write(rows []T) error {
	if _, err := w.writer.Write(rows); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	w.count += len(rows)
	if w.count%writerFlushInterval < len(rows) {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("flush parquet row group: %w", err)
		}
	}
	return nil
}

// Count returns the number of rows written.
func (w *Writer[T]) Count() int { return w.count }

// Close flushes and closes the file.
func (w *Writer[T]) Close() error {
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return w.file.Close()
}
