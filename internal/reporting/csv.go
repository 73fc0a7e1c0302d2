package reporting

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RenderCSV renders one table as CSV with a header row.
func RenderCSV(t Table) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	if err := w.Write(t.Columns); err != nil {
		return "", err
	}
	for _, row := range t.Rows {
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// CSVDirSink writes each table to <Dir>/<slug>.csv.
type CSVDirSink struct {
	Dir     string
	Written []string // paths written so far
}

// RenderTable writes t to a file named after its title.
func (s *CSVDirSink) RenderTable(t Table) error {
	body, err := RenderCSV(t)
	if err != nil {
		return err
	}
	path := filepath.Join(s.Dir, Slug(t.Title)+".csv")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	s.Written = append(s.Written, path)
	return nil
}

// Slug lowercases title and joins its words with underscores.
func Slug(title string) string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	if len(fields) == 0 {
		return "table"
	}
	return strings.Join(fields, "_")
}

var _ TableSink = (*CSVDirSink)(nil)
var _ TableSink = (*MarkdownSink)(nil)
var _ ChartSink = (*MarkdownSink)(nil)
