package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
)

// Format — формат вывода данных.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat проверяет значение флага --output.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (table, json, yaml)", s)
}

// Table — табличное представление данных.
type Table struct {
	Headers []string
	Rows    [][]string
}

func (t Table) write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	line := func(cells []string) {
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}

	line(t.Headers)
	rule := make([]string, len(t.Headers))
	for i, h := range t.Headers {
		rule[i] = strings.Repeat("-", len(h))
	}
	line(rule)
	for _, row := range t.Rows {
		line(row)
	}
	return tw.Flush()
}

// Output пишет данные в stdout, сообщения — в stderr, поэтому
// weaver flow-run ls -o json | jq работает.
type Output struct {
	format Format
	stdout io.Writer
	stderr io.Writer
}

// NewOutput создаёт Output. Пустой format — таблица.
func NewOutput(format Format, stdout, stderr io.Writer) *Output {
	if format == "" {
		format = FormatTable
	}
	return &Output{format: format, stdout: stdout, stderr: stderr}
}

// Structured сообщает, что данные выводятся как JSON или YAML.
func (o *Output) Structured() bool {
	return o.format != FormatTable
}

// Print выводит t или, в структурированном формате, data.
func (o *Output) Print(t Table, data any) error {
	if o.Structured() {
		return o.Encode(data)
	}
	return t.write(o.stdout)
}

// WriteTable выводит таблицу независимо от формата.
func (o *Output) WriteTable(t Table) error {
	return t.write(o.stdout)
}

// Encode выводит v в формате JSON или YAML. YAML строится из JSON
// представления, чтобы имена полей и форматы значений совпадали.
func (o *Output) Encode(v any) error {
	if o.format != FormatYAML {
		enc := json.NewEncoder(o.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(o.stdout)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// Notify пишет сообщение в stderr.
func (o *Output) Notify(format string, args ...any) {
	fmt.Fprintf(o.stderr, format+"\n", args...)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
