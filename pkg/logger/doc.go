// Package logger builds the service's *slog.Logger.
//
// New applies functional options on top of production defaults (JSON, info level,
// stdout). WithEnvironment switches to a readable text format at debug level for
// development. Context extractors registered through WithContextExtractors run on
// every record, so request ids and the authenticated user appear in logs without
// threading loggers through call chains:
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "entitlements"),
//		logger.WithContextExtractors(requestid.LoggerExtractor(), auth.LoggerExtractor()),
//	)
//
// The attribute helpers (Error, UserID, EventID, ...) keep key names consistent
// across packages and return an empty attribute for empty input.
package logger
