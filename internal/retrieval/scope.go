package retrieval

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/scribe/internal/config"
)

// Scope is the breadth of a retrieval.
type Scope string

const (
	ScopeSection  Scope = "section"
	ScopeDocument Scope = "document"
	ScopeGlobal   Scope = "global"
)

// ParseScope accepts a scope name in any case.
func ParseScope(s string) (Scope, error) {
	scope := Scope(strings.ToLower(strings.TrimSpace(s)))
	if !scope.Valid() {
		return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidRequest, s)
	}
	return scope, nil
}

func (s Scope) Valid() bool {
	switch s {
	case ScopeSection, ScopeDocument, ScopeGlobal:
		return true
	}
	return false
}

func (s Scope) String() string { return string(s) }

// Namespace is a logical partition of the vector index.
type Namespace string

const (
	NamespaceGeneral   Namespace = "general"
	NamespaceSummary   Namespace = "summary"
	NamespaceHierarchy Namespace = "hierarchy"
)

// Depth is the number of neighbors fetched per query from each namespace.
type Depth struct {
	General   int
	Summary   int
	Hierarchy int
}

// Total is the per-query neighbor count across namespaces.
func (d Depth) Total() int {
	return d.General + d.Summary + d.Hierarchy
}

func (d Depth) of(ns Namespace) int {
	switch ns {
	case NamespaceGeneral:
		return d.General
	case NamespaceSummary:
		return d.Summary
	case NamespaceHierarchy:
		return d.Hierarchy
	}
	return 0
}

// DepthPolicy assigns a Depth to each scope.
type DepthPolicy struct {
	Section  Depth
	Document Depth
	Global   Depth
}

// DefaultDepthPolicy returns section 5/1/0, document 10/3/0 and global 10/3/5
// (general/summary/hierarchy).
func DefaultDepthPolicy() DepthPolicy {
	return DepthPolicy{
		Section:  Depth{General: 5, Summary: 1},
		Document: Depth{General: 10, Summary: 3},
		Global:   Depth{General: 10, Summary: 3, Hierarchy: 5},
	}
}

// DepthPolicyFromSettings maps the retrieval section of the config file.
func DepthPolicyFromSettings(s config.RetrievalConfig) DepthPolicy {
	conv := func(d config.DepthConfig) Depth {
		return Depth{General: d.General, Summary: d.Summary, Hierarchy: d.Hierarchy}
	}
	return DepthPolicy{
		Section:  conv(s.Section),
		Document: conv(s.Document),
		Global:   conv(s.Global),
	}
}

// For returns the depth of scope. Unknown scopes get a zero Depth.
func (p DepthPolicy) For(scope Scope) Depth {
	switch scope {
	case ScopeSection:
		return p.Section
	case ScopeDocument:
		return p.Document
	case ScopeGlobal:
		return p.Global
	}
	return Depth{}
}

// Validate rejects negative depths and policies whose total depth shrinks
// as the scope widens.
func (p DepthPolicy) Validate() error {
	for _, d := range []Depth{p.Section, p.Document, p.Global} {
		if d.General < 0 || d.Summary < 0 || d.Hierarchy < 0 {
			return fmt.Errorf("%w: negative depth %+v", ErrInvalidConfig, d)
		}
	}
	if p.Section.Total() > p.Document.Total() || p.Document.Total() > p.Global.Total() {
		return fmt.Errorf("%w: depth must not shrink as scope widens (section %d, document %d, global %d)",
			ErrInvalidConfig, p.Section.Total(), p.Document.Total(), p.Global.Total())
	}
	return nil
}

// ConfigFromSettings builds a retriever Config from the full configuration.
func ConfigFromSettings(cfg *config.Config) Config {
	return Config{
		Collections: Collections{
			General:   cfg.VectorStore.Collections.General,
			Summary:   cfg.VectorStore.Collections.Summary,
			Hierarchy: cfg.VectorStore.Collections.Hierarchy,
		},
		Depth:          DepthPolicyFromSettings(cfg.Retrieval),
		RRFK:           cfg.Retrieval.RRFK,
		TopK:           cfg.Retrieval.TopK,
		MaxConcurrency: cfg.Retrieval.MaxConcurrency,
	}
}
