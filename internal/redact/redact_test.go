package redact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/scribe/internal/config"
	"github.com/fyrsmithlabs/scribe/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func fixedDetect(findings ...Finding) detectFunc {
	return func(string, *Allowlist) ([]Finding, error) {
		return findings, nil
	}
}

func TestReplaceFindings(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		findings []Finding
		want     string
	}{
		{
			name: "no findings",
			text: "plain prose",
			want: "plain prose",
		},
		{
			name:     "single secret",
			text:     "token=abc123 in config",
			findings: []Finding{{RuleID: "generic-api-key", secret: "abc123"}},
			want:     "token=[REDACTED:generic-api-key] in config",
		},
		{
			name:     "repeated secret",
			text:     "abc123 then abc123",
			findings: []Finding{{RuleID: "k", secret: "abc123"}},
			want:     "[REDACTED:k] then [REDACTED:k]",
		},
		{
			name: "nested secrets replaced whole",
			text: "key=abc123xyz",
			findings: []Finding{
				{RuleID: "short", secret: "abc123"},
				{RuleID: "long", secret: "abc123xyz"},
			},
			want: "key=[REDACTED:long]",
		},
		{
			name:     "empty secret ignored",
			text:     "unchanged",
			findings: []Finding{{RuleID: "k"}},
			want:     "unchanged",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, replaceFindings(tt.text, tt.findings))
		})
	}
}

func TestRedactor_Redact(t *testing.T) {
	logger := logging.NewTestLogger()
	r, err := New(Config{}, logger.Underlying())
	require.NoError(t, err)
	r.detect = fixedDetect(
		Finding{RuleID: "github-pat", Line: 2, Length: 6, secret: "s3cr3t"},
		Finding{RuleID: "github-pat", Line: 3, Length: 6, secret: "t0k3n!"},
	)

	result, err := r.Redact(context.Background(), "intro\nuse s3cr3t\nand t0k3n!")
	require.NoError(t, err)
	assert.True(t, result.Redacted())
	assert.Equal(t, "intro\nuse [REDACTED:github-pat]\nand [REDACTED:github-pat]", result.Text)
	assert.Equal(t, map[string]int{"github-pat": 2}, result.ByRule)
	logger.AssertLogged(t, zapcore.InfoLevel, "redacted secrets")

	text, err := r.Scrub(context.Background(), "use s3cr3t")
	require.NoError(t, err)
	assert.Equal(t, "use [REDACTED:github-pat]", text)
}

func TestRedactor_BlankTextSkipsDetection(t *testing.T) {
	r, err := New(Config{}, nil)
	require.NoError(t, err)
	r.detect = func(string, *Allowlist) ([]Finding, error) {
		t.Fatal("detector called for blank text")
		return nil, nil
	}
	result, err := r.Redact(context.Background(), "  \n")
	require.NoError(t, err)
	assert.False(t, result.Redacted())
	assert.Equal(t, "  \n", result.Text)
}

func TestRedactor_DetectionError(t *testing.T) {
	r, err := New(Config{}, nil)
	require.NoError(t, err)
	r.detect = func(string, *Allowlist) ([]Finding, error) {
		return nil, errors.New("bad rules")
	}
	_, err = r.Redact(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad rules")

	_, err = r.Scrub(context.Background(), "text")
	assert.Error(t, err)
}

func TestRedactor_GitleaksDefaultRules(t *testing.T) {
	r, err := New(Config{}, nil)
	require.NoError(t, err)

	clean := "The quarterly report covers revenue, hiring and the roadmap."
	result, err := r.Redact(context.Background(), clean)
	require.NoError(t, err)
	assert.False(t, result.Redacted())
	assert.Equal(t, clean, result.Text)

	secret := "sk-proj-abcdefghijklmnopqrstuvwxyz1234567890123456"
	result, err = r.Redact(context.Background(), `Set OPENAI_API_KEY="`+secret+`" before running.`)
	require.NoError(t, err)
	// Rule coverage varies across gitleaks releases.
	if result.Redacted() {
		assert.NotContains(t, result.Text, secret)
		assert.Contains(t, result.Text, "[REDACTED:")
		for _, f := range result.Findings {
			assert.NotEmpty(t, f.RuleID)
			assert.Positive(t, f.Length)
		}
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "allowlist.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAllowlist(t *testing.T) {
	list, err := LoadAllowlist("")
	require.NoError(t, err)
	assert.True(t, list.Empty())

	list, err = LoadAllowlist(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.True(t, list.Empty())

	path := writeFile(t, "[allowlist]\nregexes = ['''EXAMPLE[0-9]+''']\nstopwords = [\"placeholder\"]\n")
	list, err = LoadAllowlist(path)
	require.NoError(t, err)
	assert.False(t, list.Empty())
	assert.Equal(t, []string{"EXAMPLE[0-9]+"}, list.Regexes)
	assert.Equal(t, []string{"placeholder"}, list.StopWords)
	require.Len(t, list.compiled, 1)
	assert.True(t, list.compiled[0].MatchString("EXAMPLE42"))
}

func TestLoadAllowlist_Errors(t *testing.T) {
	_, err := LoadAllowlist(writeFile(t, "[allowlist\nregexes = "))
	assert.ErrorIs(t, err, ErrInvalidTOML)

	_, err = LoadAllowlist(writeFile(t, "[allowlist]\nregexes = ['''([''']\n"))
	assert.ErrorIs(t, err, ErrInvalidRegex)

	_, err = New(Config{AllowlistPath: writeFile(t, "[allowlist]\nregexes = ['''([''']\n")}, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "loading allowlist"))
}

func TestConfigFromSettings(t *testing.T) {
	cfg := ConfigFromSettings(config.RedactionConfig{Enabled: true, AllowlistPath: "/etc/scribe/allowlist.toml"})
	assert.Equal(t, "/etc/scribe/allowlist.toml", cfg.AllowlistPath)
}
