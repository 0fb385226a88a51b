// Package llm issues text completions against a chat model.
//
// Client adapts any langchaingo llms.Model to the single-prompt Completer
// interface used by the classifier, rewriter, summarizer and assistant.
// Every call waits on a token-bucket limiter and retries transient failures
// with exponential backoff.
package llm
