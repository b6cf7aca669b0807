package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Load reads a script file and classifies it by extension: .json files are
// declarative action sequences, .js files are imperative sandbox programs.
func Load(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		s, err := LoadDeclarative(f)
		if err != nil {
			return nil, err
		}
		s.Path = path
		return s, nil
	case ".js":
		s, err := LoadImperative(f)
		if err != nil {
			return nil, err
		}
		s.Path = path
		return s, nil
	default:
		return nil, fmt.Errorf("unrecognized script extension %q (want .json or .js)", filepath.Ext(path))
	}
}

// LoadDeclarative parses a declarative script from r with strict
// unknown-field rejection.
func LoadDeclarative(r io.Reader) (*Script, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var s Script
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	s.Kind = KindDeclarative
	return &s, nil
}

// LoadImperative reads an imperative script's source and extracts the
// header-comment metadata block (name, description, version) used for
// catalog display. The program itself is not parsed here — syntax checking
// is the validator's job.
func LoadImperative(r io.Reader) (*Script, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	s := &Script{
		Kind:   KindImperative,
		Source: string(src),
	}
	s.Name, s.Description, s.Version = parseHeaderMeta(string(src))
	return s, nil
}

// parseHeaderMeta scans the leading comment lines of a program for
// "name:", "description:" and "version:" entries. Scanning stops at the
// first non-comment, non-blank line.
func parseHeaderMeta(src string) (name, description, version string) {
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "//"):
			line = strings.TrimSpace(strings.TrimPrefix(line, "//"))
		case strings.HasPrefix(line, "/*"):
			line = strings.TrimSpace(strings.TrimPrefix(line, "/*"))
		case strings.HasPrefix(line, "*"):
			line = strings.TrimSpace(strings.TrimPrefix(line, "*"))
		default:
			return
		}
		line = strings.TrimSpace(strings.TrimSuffix(line, "*/"))
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "name":
			if name == "" {
				name = value
			}
		case "description":
			if description == "" {
				description = value
			}
		case "version":
			if version == "" {
				version = value
			}
		}
	}
	return
}

// Save writes a script to dir under the given name, choosing the extension
// from kind, and returns the written path. Declarative content may be a
// *Script or any JSON-marshalable document; imperative content must be the
// program source string.
func Save(dir, name string, content any, kind ScriptKind) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create script dir: %w", err)
	}

	var (
		path string
		data []byte
	)
	switch kind {
	case KindDeclarative:
		path = filepath.Join(dir, name+".json")
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(content); err != nil {
			return "", fmt.Errorf("marshal script: %w", err)
		}
		data = buf.Bytes()
	case KindImperative:
		src, ok := content.(string)
		if !ok {
			return "", fmt.Errorf("imperative script content must be a string, got %T", content)
		}
		path = filepath.Join(dir, name+".js")
		data = []byte(src)
	default:
		return "", fmt.Errorf("unknown script kind %q", kind)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write script: %w", err)
	}
	return path, nil
}
