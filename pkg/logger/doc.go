// Package logger provides structured logging for favmirror.
//
// It wraps zerolog behind the Logger interface so packages can attach
// fields without depending on zerolog directly:
//
//	log := logger.GetLogger().WithField("component", "syncer")
//	log.InfoWithFields("page walked", map[string]interface{}{
//	    "cursor": 450,
//	    "ids":    50,
//	})
//
// Console output is colorized and written to stderr. When Logging.File is
// set, JSON lines are appended to that file as well. Tests use
// NewTestLogger to capture messages or NewNopLogger to discard them.
package logger
