// Package logx provides the structured logging layer used across feeflow.
//
// It wraps zerolog behind a small Logger value type so components can hold a
// logger without caring whether sinks are reconfigured at runtime. The
// Service owns the sinks (console, file) and supports hot Apply() of a new
// configuration; Loggers created from it pick up changes immediately.
package logx
