package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileResult describes one rewritten listing.
type FileResult struct {
	Path     string `json:"path" yaml:"path"`
	Output   string `json:"output,omitempty" yaml:"output,omitempty"`
	Lines    int    `json:"lines" yaml:"lines"`
	Inserted int    `json:"inserted" yaml:"inserted"`
}

// Report summarises a run.
type Report struct {
	Tool         string        `json:"tool" yaml:"tool"`
	Input        string        `json:"input" yaml:"input"`
	Output       string        `json:"output,omitempty" yaml:"output,omitempty"`
	Sources      int           `json:"sources" yaml:"sources"`
	Sinks        int           `json:"sinks" yaml:"sinks"`
	Stats        Snapshot      `json:"stats" yaml:"stats"`
	Instrumented []string      `json:"instrumented,omitempty" yaml:"instrumented,omitempty"`
	Augmented    []string      `json:"augmented,omitempty" yaml:"augmented,omitempty"`
	Files        []FileResult  `json:"files,omitempty" yaml:"files,omitempty"`
	Elapsed      time.Duration `json:"elapsed" yaml:"elapsed"`
}

// JSON encodes the report with indentation.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// YAML encodes the report.
func (r *Report) YAML() ([]byte, error) {
	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// Encode renders the report in the named format: json, yaml or markdown.
func (r *Report) Encode(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "json":
		return r.JSON()
	case "yaml", "yml":
		return r.YAML()
	case "md", "markdown":
		return []byte(r.Markdown()), nil
	}
	return nil, fmt.Errorf("unknown report format %q", format)
}

// maxListed caps the method lists in the markdown summary.
const maxListed = 20

// Markdown renders a human-readable summary.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# smalitaint report\n\n")
	fmt.Fprintf(&b, "Tool strategy **%s**, %d sources, %d sinks, input `%s`", r.Tool, r.Sources, r.Sinks, r.Input)
	if r.Output != "" {
		fmt.Fprintf(&b, ", output `%s`", r.Output)
	}
	fmt.Fprintf(&b, " (%s).\n\n", r.Elapsed.Round(time.Millisecond))

	s := r.Stats
	b.WriteString("| Counter | Value |\n|---|---:|\n")
	rows := []struct {
		name string
		v    int64
	}{
		{"Files", s.Files},
		{"Classes", s.Classes},
		{"Methods", s.Methods},
		{"Source calls", s.SourceCalls},
		{"Sink calls", s.SinkCalls},
		{"Tainted methods", s.TaintedMethods},
		{"Clean methods", s.CleanMethods},
		{"Instrumented", s.Instrumented},
		{"Augmented", s.Augmented},
		{"Oversized", s.Oversized},
		{"Container sites", s.ContainerSites},
		{"Inserted instructions", s.Inserted},
		{"Bridges", s.Bridges},
		{"Shadow fields", s.ShadowFields},
		{"Coverage hits", s.CoverageHits},
	}
	for _, row := range rows {
		fmt.Fprintf(&b, "| %s | %d |\n", row.name, row.v)
	}

	writeList(&b, "Instrumented methods", r.Instrumented)
	writeList(&b, "Augmented methods", r.Augmented)
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s (%d)\n\n", title, len(items))
	for i, it := range items {
		if i == maxListed {
			fmt.Fprintf(b, "- … %d more\n", len(items)-maxListed)
			break
		}
		fmt.Fprintf(b, "- `%s`\n", it)
	}
}
