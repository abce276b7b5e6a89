package oracle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"smalitaint/internal/signature"
)

var sinkFieldSep = regexp.MustCompile(`,\s*`)

// Load reads the source and sink files. An empty sinksPath loads no sinks,
// which turns container propagation off.
func Load(sourcesPath, sinksPath string) (*Oracle, error) {
	sources, err := readLines(sourcesPath)
	if err != nil {
		return nil, err
	}
	var sinks []string
	if sinksPath != "" {
		if sinks, err = readLines(sinksPath); err != nil {
			return nil, err
		}
	}
	o, err := New(sources, sinks)
	if err != nil {
		return nil, fmt.Errorf("loading %s/%s: %w", sourcesPath, sinksPath, err)
	}
	return o, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	lines, err := scanLines(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return lines, nil
}

func scanLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// New builds an Oracle from already-read source and sink lines.
func New(sourceLines, sinkLines []string) (*Oracle, error) {
	o := newOracle()
	var wildcards []string
	for i, raw := range sourceLines {
		line := strings.TrimSpace(raw)
		if line == "" || isComment(line) {
			continue
		}
		class, nameAndDesc, err := splitSignature(line)
		if err != nil {
			return nil, fmt.Errorf("source line %d: %w", i+1, err)
		}
		if class == Wildcard {
			if _, dup := o.wildcards[nameAndDesc]; !dup {
				o.wildcards[nameAndDesc] = -1
				wildcards = append(wildcards, nameAndDesc)
			}
			continue
		}
		if _, dup := o.exact[line]; dup {
			continue
		}
		o.exact[line] = o.nExact
		o.nExact++
	}
	for i, w := range wildcards {
		o.wildcards[w] = o.nExact + i
	}

	for i, raw := range sinkLines {
		line := strings.TrimSpace(raw)
		if line == "" || isComment(line) {
			continue
		}
		sig, params, err := parseSink(line)
		if err != nil {
			return nil, fmt.Errorf("sink line %d: %w", i+1, err)
		}
		o.sinks[sig] = params
	}
	return o, nil
}

func splitSignature(line string) (class, nameAndDesc string, err error) {
	if strings.HasPrefix(line, Wildcard+"->") {
		nameAndDesc = strings.TrimPrefix(line, Wildcard+"->")
		// validate the name/descriptor part against a placeholder class
		if _, err := signature.Parse("La;->"+nameAndDesc, true); err != nil {
			return "", "", err
		}
		return Wildcard, nameAndDesc, nil
	}
	s, err := signature.Parse(line, true)
	if err != nil {
		return "", "", err
	}
	return s.Class, s.NameAndDesc(), nil
}

func parseSink(line string) (string, ParamSet, error) {
	fields := sinkFieldSep.Split(line, -1)
	sig := fields[0]
	if _, err := signature.Parse(sig, true); err != nil {
		return "", ParamSet{}, err
	}
	if len(fields) < 2 {
		return "", ParamSet{}, fmt.Errorf("sink %q has no parameter list", sig)
	}
	var ps ParamSet
	for _, f := range fields[1:] {
		f = strings.TrimSpace(f)
		if f == "*" {
			ps.All = true
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return "", ParamSet{}, fmt.Errorf("sink %q: invalid parameter index %q", sig, f)
		}
		ps.Indices = append(ps.Indices, n)
	}
	if ps.All {
		ps.Indices = nil
	}
	return sig, ps, nil
}
