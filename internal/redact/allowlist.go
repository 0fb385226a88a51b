package redact

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Allowlist holds content patterns that are never redacted.
type Allowlist struct {
	Regexes   []string
	StopWords []string

	compiled []*regexp.Regexp
}

// LoadAllowlist reads the [allowlist] table of a TOML file:
//
//	[allowlist]
//	regexes = ['''EXAMPLE[0-9]+''']
//	stopwords = ["placeholder"]
//
// An empty path or missing file yields an empty allowlist.
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return &Allowlist{}, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &Allowlist{}, nil
		}
		return nil, err
	}

	var file struct {
		Allowlist struct {
			Regexes   []string `toml:"regexes"`
			StopWords []string `toml:"stopwords"`
		} `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	list := &Allowlist{
		Regexes:   file.Allowlist.Regexes,
		StopWords: file.Allowlist.StopWords,
	}
	for _, pattern := range list.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
		list.compiled = append(list.compiled, re)
	}
	return list, nil
}

// Empty reports whether the allowlist has no entries.
func (a *Allowlist) Empty() bool {
	return a == nil || (len(a.compiled) == 0 && len(a.StopWords) == 0)
}

// applyAllowlist appends a as a global allowlist of the gitleaks config.
func applyAllowlist(cfg *gitleaksConfig.Config, a *Allowlist) {
	if a.Empty() {
		return
	}
	global := &gitleaksConfig.Allowlist{Description: "scribe allowlist"}
	for _, re := range a.compiled {
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, a.StopWords...)
	cfg.Allowlists = append(cfg.Allowlists, global)
}
