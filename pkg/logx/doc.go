// Package logx wraps zerolog behind a small Field-func API so components
// can log structurally without binding to a concrete zerolog.Logger.
//
// Loggers obtained from a Service stay live across Apply() calls, so
// config-driven level/sink changes take effect everywhere at once.
package logx
