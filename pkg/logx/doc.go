// Package logx wraps zerolog behind a small Logger value type whose sinks
// (console, file, operator Telegram chat) can be swapped at runtime via the
// Service without invalidating loggers already handed out.
package logx
