// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Output to stderr, optionally teed to OpenTelemetry
//   - Automatic context field injection (trace_id, collection, invocation)
//   - Secret redaction at the encoder
//
// Logs go to stderr so that stdout stays reserved for command output
// (query results, prompts, demo transcripts).
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithCollection(ctx, "advanced_docs")
//	logger.Info(ctx, "documents added", zap.Int("count", 5))
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "query executed", zap.Int("n_results", 2))
//	tl.AssertLogged(t, zapcore.InfoLevel, "query executed")
//	tl.AssertField(t, "query executed", "n_results", int64(2))
//
// Logger is safe for concurrent use. Child loggers (With, Named) do not
// affect their parent.
package logging
