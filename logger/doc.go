// Package logger provides structured logging on top of zerolog.
//
// It supports JSON and console output, level configuration, and
// component-scoped loggers with structured fields. Library code takes a
// *Logger and falls back to NewNop when none is given.
//
// # Configuration
//
//	logging:
//	  level: "debug"
//	  format: "json"
//
// # Usage
//
//	log := logger.New(&cfg, "fetchctl").WithComponent("pool")
//	log.Debug("swept idle handles", logger.Fields("evicted", 3))
package logger
