// Package logx is the alerter's structured logger: a zerolog wrapper whose
// outputs (console, JSON file, operator log chat) can be swapped at runtime
// without re-creating the Logger values held by components.
package logx
