// Package ui provides terminal output helpers for meshctl: a small ANSI
// palette, status symbols, a spinner for operations that wait on a daemon,
// and tables for the status dashboard and snapshot listings.
//
// Use DisableColors() to switch to monochrome output (for --no-color).
package ui
