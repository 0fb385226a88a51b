package query

import (
	"context"
	"errors"
	"testing"

	"github.com/fyrsmithlabs/scribe/internal/logging"
	"github.com/fyrsmithlabs/scribe/internal/retrieval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		intent Intent
		scope  retrieval.Scope
		ok     bool
	}{
		{"question document", "QUESTION - scope: DOCUMENT", IntentQuestion, retrieval.ScopeDocument, true},
		{"edit section", "EDIT - scope: SECTION", IntentEdit, retrieval.ScopeSection, true},
		{"generate global", "GENERATE - scope: GLOBAL", IntentGenerate, retrieval.ScopeGlobal, true},
		{"summarize document", "SUMMARIZE - scope: DOCUMENT", IntentSummarize, retrieval.ScopeDocument, true},
		{"lower case", "question - scope: section", IntentQuestion, retrieval.ScopeSection, true},
		{"quoted with period", "\"QUESTION - scope: GLOBAL.\"", IntentQuestion, retrieval.ScopeGlobal, true},
		{"surrounding whitespace", "\n  EDIT - scope: DOCUMENT  \n", IntentEdit, retrieval.ScopeDocument, true},
		{"tight spacing", "QUESTION-scope:SECTION", IntentQuestion, retrieval.ScopeSection, true},
		{"legacy not question", "NOT_QUESTION", IntentGenerate, retrieval.ScopeSection, true},
		{"unknown intent", "DELETE - scope: SECTION", "", "", false},
		{"unknown scope", "QUESTION - scope: LIBRARY", "", "", false},
		{"extra prose", "I think this is a QUESTION - scope: DOCUMENT", "", "", false},
		{"empty", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseClassification(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.intent, got.Intent)
			assert.Equal(t, tt.scope, got.Scope)
			assert.False(t, got.FailedClosed)
			assert.Equal(t, tt.raw, got.Raw)
		})
	}
}

func TestClassifier_Classify(t *testing.T) {
	completer := &fakeCompleter{reply: "QUESTION - scope: SECTION"}
	c := NewClassifier(completer, nil)

	got, err := c.Classify(context.Background(), "What color are the sleeping bags?")
	require.NoError(t, err)
	assert.Equal(t, IntentQuestion, got.Intent)
	assert.Equal(t, retrieval.ScopeSection, got.Scope)
	assert.True(t, got.NeedsRetrieval())
	assert.True(t, got.IsQuestion())

	require.Equal(t, 1, completer.calls())
	assert.Contains(t, completer.prompts[0], "What color are the sleeping bags?")
	assert.Equal(t, 0.0, completer.temps[0])
}

func TestClassifier_FailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
		raw   string
		msg   string
	}{
		{"unparseable output", "Sure! This looks like a question.", nil, "Sure! This looks like a question.", "unrecognized classification"},
		{"completion error", "", errors.New("upstream unavailable"), "", "classification failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := logging.NewTestLogger()
			c := NewClassifier(&fakeCompleter{reply: tt.reply, err: tt.err}, logs.Underlying())

			got, err := c.Classify(context.Background(), "Where does the story start?")
			require.NoError(t, err)
			assert.Equal(t, IntentQuestion, got.Intent)
			assert.Equal(t, retrieval.ScopeGlobal, got.Scope)
			assert.True(t, got.FailedClosed)
			assert.True(t, got.NeedsRetrieval())
			assert.Equal(t, tt.raw, got.Raw)
			logs.AssertLogged(t, zapcore.WarnLevel, tt.msg)
		})
	}
}

func TestClassifier_EmptyQuery(t *testing.T) {
	completer := &fakeCompleter{reply: "EDIT - scope: SECTION"}
	c := NewClassifier(completer, nil)

	_, err := c.Classify(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Zero(t, completer.calls())
}

func TestClassification_NeedsRetrieval(t *testing.T) {
	tests := []struct {
		intent Intent
		want   bool
	}{
		{IntentQuestion, true},
		{IntentSummarize, true},
		{IntentEdit, false},
		{IntentGenerate, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.intent), func(t *testing.T) {
			assert.Equal(t, tt.want, Classification{Intent: tt.intent}.NeedsRetrieval())
		})
	}
}
