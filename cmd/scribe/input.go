package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fyrsmithlabs/scribe/internal/indexing"
)

// maxInputSize caps section files read from disk or stdin.
const maxInputSize = 10 * 1024 * 1024

// readInput reads path, or stdin when path is "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(io.LimitReader(r, maxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) > maxInputSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, maxInputSize)
	}
	return data, nil
}

// parseSections accepts a single section object or an array of them.
func parseSections(data []byte) ([]indexing.Section, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty section input", errMissingInput)
	}
	if strings.HasPrefix(trimmed, "[") {
		var sections []indexing.Section
		if err := json.Unmarshal([]byte(trimmed), &sections); err != nil {
			return nil, fmt.Errorf("failed to parse sections: %w", err)
		}
		return sections, nil
	}
	var section indexing.Section
	if err := json.Unmarshal([]byte(trimmed), &section); err != nil {
		return nil, fmt.Errorf("failed to parse section: %w", err)
	}
	return []indexing.Section{section}, nil
}

func readSections(paths []string, stdin io.Reader) ([]indexing.Section, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: --file is required", errMissingInput)
	}
	var all []indexing.Section
	for _, path := range paths {
		data, err := readInput(path, stdin)
		if err != nil {
			return nil, err
		}
		sections, err := parseSections(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		all = append(all, sections...)
	}
	return all, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
