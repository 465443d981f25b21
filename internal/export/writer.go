package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/querykit/internal/domain"
	"github.com/rpattn/querykit/internal/query"
)

// Format selects the file type written by an export.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts a format name or file extension.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ".")) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", name)
	}
}

// MimeType returns the content type of files in this format.
func (f Format) MimeType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// SheetName is the worksheet XLSX exports are written to.
const SheetName = "Sheet1"

// Result reports what an export wrote.
type Result struct {
	RowsExported int
	BytesWritten int64
}

// Write streams rows to w as a header line followed by one line per record.
// Rows is always closed.
func Write(ctx context.Context, w io.Writer, format Format, columns []string, rows query.Rows) (Result, error) {
	defer rows.Close()
	switch format {
	case FormatCSV:
		return writeCSV(ctx, w, columns, rows)
	case FormatXLSX:
		return writeXLSX(ctx, w, columns, rows)
	default:
		return Result{}, fmt.Errorf("unsupported export format %q", format)
	}
}

func writeCSV(ctx context.Context, w io.Writer, columns []string, rows query.Rows) (Result, error) {
	buffered := bufio.NewWriterSize(w, 1<<16)
	counter := &countingWriter{writer: buffered}
	csvWriter := csv.NewWriter(counter)

	if err := csvWriter.Write(columns); err != nil {
		return Result{}, fmt.Errorf("write header: %w", err)
	}

	line := make([]string, len(columns))
	exported := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		record := rows.Record()
		for i, col := range columns {
			line[i] = formatValue(ValueAt(record, col))
		}
		if err := csvWriter.Write(line); err != nil {
			return Result{}, fmt.Errorf("write record row: %w", err)
		}
		exported++
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return Result{}, fmt.Errorf("flush rows: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return Result{}, fmt.Errorf("flush buffered rows: %w", err)
	}
	return Result{RowsExported: exported, BytesWritten: counter.count}, nil
}

func writeXLSX(ctx context.Context, w io.Writer, columns []string, rows query.Rows) (Result, error) {
	f := excelize.NewFile()
	defer f.Close()

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return Result{}, fmt.Errorf("open sheet writer: %w", err)
	}

	header := make([]any, len(columns))
	for i, col := range columns {
		header[i] = col
	}
	if err := sw.SetRow("A1", header); err != nil {
		return Result{}, fmt.Errorf("write header: %w", err)
	}

	exported := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		record := rows.Record()
		cells := make([]any, len(columns))
		for i, col := range columns {
			cells[i] = cellValue(ValueAt(record, col))
		}
		cell, err := excelize.CoordinatesToCellName(1, exported+2)
		if err != nil {
			return Result{}, err
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return Result{}, fmt.Errorf("write record row: %w", err)
		}
		exported++
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	if err := sw.Flush(); err != nil {
		return Result{}, fmt.Errorf("flush sheet: %w", err)
	}

	counter := &countingWriter{writer: bufio.NewWriter(w)}
	if err := f.Write(counter); err != nil {
		return Result{}, fmt.Errorf("write workbook: %w", err)
	}
	if err := counter.writer.Flush(); err != nil {
		return Result{}, fmt.Errorf("flush workbook: %w", err)
	}
	return Result{RowsExported: exported, BytesWritten: counter.count}, nil
}

// WriteFile exports to path. The file is written to a temporary sibling first
// and renamed into place only after a successful export.
func WriteFile(ctx context.Context, path string, format Format, columns []string, rows query.Rows) (Result, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		rows.Close()
		return Result{}, fmt.Errorf("create export directory: %w", err)
	}
	tempFile, err := os.CreateTemp(dir, filepath.Base(path)+"-*.tmp")
	if err != nil {
		rows.Close()
		return Result{}, fmt.Errorf("create temp export file: %w", err)
	}
	tempPath := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = tempFile.Close()
			_ = os.Remove(tempPath)
		}
	}()

	result, err := Write(ctx, tempFile, format, columns, rows)
	if err != nil {
		return Result{}, err
	}
	if err := tempFile.Sync(); err != nil {
		return Result{}, fmt.Errorf("sync export file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return Result{}, fmt.Errorf("close export file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return Result{}, fmt.Errorf("promote export file: %w", err)
	}
	cleanup = false
	return result, nil
}

// FileName builds a default file name such as "review-shop-7-20240501T000000Z.csv".
func FileName(label string, format Format, now time.Time) string {
	base := sanitizeFileComponent(label)
	return fmt.Sprintf("%s-%s.%s", base, now.UTC().Format("20060102T150405Z"), format)
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}

type countingWriter struct {
	writer *bufio.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}

// cellValue keeps numbers numeric in spreadsheets and formats everything else
// the way CSV does.
func cellValue(value any) any {
	switch value.(type) {
	case int, int32, int64, float32, float64:
		return value
	default:
		return formatValue(value)
	}
}

func formatValue(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case *time.Time:
		if v == nil {
			return ""
		}
		return v.UTC().Format(time.RFC3339)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ValueAt reads column from record. A column such as "product_fk__name"
// follows join-loaded relations; a batch-loaded relation yields its size.
func ValueAt(record domain.Record, column string) any {
	segments := query.SplitPath(column)
	current := record
	for i, seg := range segments {
		if i == len(segments)-1 {
			if v, ok := current.Get(seg); ok {
				return v
			}
			if related, ok := current.Related[seg]; ok {
				return len(related)
			}
			return nil
		}
		next, ok := current.One(seg)
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}
