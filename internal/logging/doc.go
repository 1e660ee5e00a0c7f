// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// The package wraps Zap with:
//   - A custom Trace level (-2, below Debug)
//   - Stderr, file and OpenTelemetry outputs
//   - Automatic context fields (trace_id, session.id, run.id, search.keyword)
//   - Secret redaction for cookies and signed URL tokens
//   - Level-aware sampling (errors never sampled)
//
// Stdout belongs to the command's own output, so console logs go to stderr.
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	ctx = logging.WithSessionID(ctx, sess.ID)
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithKeyword(ctx, "秋天徒步")
//	ingestLog := logger.Component("ingest")
//	ingestLog.Info(ctx, "page processed", zap.Int("items", n))
//
// Each pipeline stage logs through its own Component child, so entries
// carry "component" next to the session and run IDs.
//
// # Configuration Precedence
//
//  1. Defaults (NewDefaultConfig)
//  2. File (feedcurate.yaml, logging section)
//  3. Environment variables (FEEDCURATE_LOGGING_*)
//
// # Secret Redaction
//
// Browser sessions carry cookies and xsec tokens. They are redacted by
// field name (cookie, web_session, xsec_token, ...) and by value pattern.
// Pattern matches replace only the matched text:
//
//	https://host/explore/abc?xsec_token=[REDACTED]&source=web_explore_feed
//
// config.Secret values should be logged with Secret.
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	loop := ingest.NewLoop(normalize.New(), ingest.WithLogger(tl.Logger))
//	...
//	tl.AssertLogged(t, zapcore.InfoLevel, "ingest finished")
//	tl.AssertField(t, "ingest finished", "run.id", "run-1")
package logging
