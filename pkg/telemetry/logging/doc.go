// Package logging provides structured logging with PII redaction.
//
// # Overview
//
// The logging package wraps log/slog with a handler that:
//   - adds request_id, tenant_id and feature from the context to every record
//   - redacts API keys, bearer tokens, emails, phone numbers and passwords
//   - supports changing the level at runtime (config hot reload)
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:     "info",
//	    Format:    "json",
//	    RedactPII: true,
//	})
//	logging.SetDefault(logger)
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	slog.InfoContext(ctx, "admission checked", "tenant_id", "garage-42")
//
// Packages log through slog.Default().With("component", ...), so installing
// the logger with SetDefault is enough for redaction and context fields to
// apply everywhere.
//
// # PII Redaction
//
//   - API keys: sk-abc123xyz → sk-***
//   - Bearer tokens: Bearer eyJ... → Bearer ***
//   - Emails: user@example.com → ***@***
//   - Values under sensitive keys (password, secret, *_token, dsn) keep
//     their first four characters only
package logging
