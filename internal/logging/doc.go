// Package logging provides structured logging for scribe on top of zap.
//
// The Logger wrapper takes a context on every call and adds correlation
// fields from it: the active OpenTelemetry trace and span, and the
// document, section and thread ids attached with WithDocumentID,
// WithSectionID and WithThreadID.
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithDocumentID(ctx, "doc-42")
//	logger.Info(ctx, "section indexed", zap.Int("chunks", n))
//
// Output goes to stderr so command output on stdout stays clean, and
// optionally to an OpenTelemetry log provider through the otelzap bridge.
// Sampling applies below error level only; errors are never dropped.
//
// Library packages take a plain *zap.Logger. Use Underlying to hand one out.
package logging
