package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
	OutputCSV   OutputFormat = "csv"
)

// Outputter handles different output formats
type Outputter struct {
	format OutputFormat
	writer *os.File
}

// NewOutputter creates a new outputter with the specified format
func NewOutputter(format string) *Outputter {
	return &Outputter{
		format: OutputFormat(format),
		writer: os.Stdout,
	}
}

// PrintTable prints data as a formatted table
func (o *Outputter) PrintTable(headers []string, rows [][]string) error {
	switch o.format {
	case OutputTable:
		return o.printAsTable(headers, rows)
	case OutputJSON:
		return o.printAsJSON(headers, rows)
	case OutputYAML:
		return o.printAsYAML(headers, rows)
	case OutputCSV:
		return o.printAsCSV(headers, rows)
	default:
		return fmt.Errorf("unsupported output format: %s", o.format)
	}
}

func (o *Outputter) printAsTable(headers []string, rows [][]string) error {
	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = len(header)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow := func(cells []string) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
		}
		fmt.Fprintln(o.writer, strings.TrimRight(strings.Join(parts, "  "), " "))
	}

	printRow(headers)
	separators := make([]string, len(headers))
	for i := range headers {
		separators[i] = strings.Repeat("-", widths[i])
	}
	printRow(separators)
	for _, row := range rows {
		printRow(row)
	}
	return nil
}

func (o *Outputter) printAsJSON(headers []string, rows [][]string) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rowsToObjects(headers, rows))
}

func (o *Outputter) printAsYAML(headers []string, rows [][]string) error {
	encoder := yaml.NewEncoder(o.writer)
	defer encoder.Close()
	return encoder.Encode(rowsToObjects(headers, rows))
}

func (o *Outputter) printAsCSV(headers []string, rows [][]string) error {
	writer := csv.NewWriter(o.writer)
	defer writer.Flush()

	if err := writer.Write(headers); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func rowsToObjects(headers []string, rows [][]string) []map[string]string {
	objects := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(row) {
				obj[header] = row[i]
			}
		}
		objects = append(objects, obj)
	}
	return objects
}
