// Package redact removes credentials from text before it is embedded,
// stored or sent to a completion provider.
//
// Detection uses the gitleaks default rule set. Each secret is replaced by
// a [REDACTED:<rule-id>] marker so the surrounding prose keeps its meaning
// for embeddings. Findings never carry the secret itself.
package redact

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/scribe/internal/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const tracerName = "scribe.redact"

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates the allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)

// Finding is one detected secret.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line"`
	Length      int    `json:"length"`

	secret string
}

// Result is the outcome of one Redact call.
type Result struct {
	Text     string         `json:"-"`
	Findings []Finding      `json:"findings,omitempty"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Redacted reports whether anything was replaced.
func (r *Result) Redacted() bool {
	return len(r.Findings) > 0
}

// Config configures a Redactor.
type Config struct {
	// AllowlistPath is a gitleaks-style TOML file of content regexes to
	// ignore. A missing file is not an error.
	AllowlistPath string
}

// ConfigFromSettings maps the redaction section of the config file.
func ConfigFromSettings(s config.RedactionConfig) Config {
	return Config{AllowlistPath: s.AllowlistPath}
}

type detectFunc func(text string, allowlist *Allowlist) ([]Finding, error)

// Redactor scrubs secrets from text. It is safe for concurrent use.
type Redactor struct {
	allowlist *Allowlist
	detect    detectFunc
	logger    *zap.Logger
}

// New loads the allowlist and returns a Redactor.
func New(cfg Config, logger *zap.Logger) (*Redactor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowlist, err := LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("loading allowlist: %w", err)
	}
	return &Redactor{allowlist: allowlist, detect: gitleaksDetect, logger: logger}, nil
}

// Redact returns text with every detected secret replaced by a marker.
func (r *Redactor) Redact(ctx context.Context, text string) (*Result, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "Redactor.Redact")
	defer span.End()

	start := time.Now()
	result := &Result{Text: text, ByRule: map[string]int{}}
	if strings.TrimSpace(text) == "" {
		return result, nil
	}

	findings, err := r.detect(text, r.allowlist)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("detecting secrets: %w", err)
	}
	for _, f := range findings {
		result.ByRule[f.RuleID]++
	}
	result.Findings = findings
	result.Text = replaceFindings(text, findings)
	result.Duration = time.Since(start)

	span.SetAttributes(attribute.Int("findings", len(findings)))
	if result.Redacted() {
		r.logger.Info("redacted secrets",
			zap.Int("count", len(findings)),
			zap.Any("by_rule", result.ByRule))
	}
	return result, nil
}

// Scrub is Redact reduced to its text.
func (r *Redactor) Scrub(ctx context.Context, text string) (string, error) {
	result, err := r.Redact(ctx, text)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// gitleaksDetect runs the default gitleaks rules over text. The detector
// keeps every finding it reports, so one is built per call.
func gitleaksDetect(text string, allowlist *Allowlist) ([]Finding, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, err
	}
	if allowlist != nil {
		applyAllowlist(&detector.Config, allowlist)
	}

	found := detector.DetectString(text)
	findings := make([]Finding, 0, len(found))
	for _, f := range found {
		if f.Secret == "" {
			continue
		}
		findings = append(findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
			Length:      len(f.Secret),
			secret:      f.Secret,
		})
	}
	return findings, nil
}

// replaceFindings swaps each secret for its marker. Longer secrets go
// first so a secret containing another is replaced whole.
func replaceFindings(text string, findings []Finding) string {
	if len(findings) == 0 {
		return text
	}
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].secret) > len(sorted[j].secret)
	})
	for _, f := range sorted {
		if f.secret == "" {
			continue
		}
		text = strings.ReplaceAll(text, f.secret, marker(f.RuleID))
	}
	return text
}

func marker(ruleID string) string {
	return fmt.Sprintf("[REDACTED:%s]", ruleID)
}
