// Package logging builds the agent's structured logger on log/slog.
//
// The SDK packages take a plain *slog.Logger; the agent constructs one
// here from the logging section of its config and passes Logger.Logger
// down:
//
//	logging:
//	  level: info      # debug, info, warn, error
//	  format: json     # json or text
//	  output: stdout   # stdout or stderr
//
// Device tokens must not appear in logs. RedactToken keeps only the tail.
package logging
