package exec

import (
	"regexp"
)

// commandNotFoundPatterns detect "command not found" reports from wrapper
// binaries (env, sudo, shells invoked by supervisors). These require exit
// code 127.
var commandNotFoundPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bash: (\S+): command not found`),
	regexp.MustCompile(`(?i)zsh: command not found: (\S+)`),
	regexp.MustCompile(`(?i)sh: \d+: (\S+): not found`),
	regexp.MustCompile(`(?i)sudo: (\S+): command not found`),
	regexp.MustCompile(`(?i)env: '?([^'\s]+)'?: No such file or directory`),
	regexp.MustCompile(`(?i)(\S+): command not found`),
	regexp.MustCompile(`(?i)(\S+): not found`),
}

// dependencyNotFoundPatterns detect when a tool fails because a program it
// delegates to is missing. These can have various exit codes.
var dependencyNotFoundPatterns = []*regexp.Regexp{
	// systemctl: Unit rnsd.service not found.
	regexp.MustCompile(`(?i)Unit (\S+) not found`),
	// /bin/sh: rnsd: not found (from service scripts)
	regexp.MustCompile(`(?i)/bin/sh: (\S+): not found`),
	// env: python3: No such file or directory (from #!/usr/bin/env python3)
	regexp.MustCompile(`(?i)env: (\S+): No such file or directory`),
}

// IsCommandNotFound checks if the error output indicates a missing command.
// Returns the command name (if extractable) and whether it's a command-not-found error.
func IsCommandNotFound(stderr string, exitCode int) (string, bool) {
	// Exit code 127 is the standard for command not found
	if exitCode != 127 {
		return "", false
	}

	for _, pattern := range commandNotFoundPatterns {
		if matches := pattern.FindStringSubmatch(stderr); len(matches) > 1 {
			return matches[1], true
		}
	}

	// Exit code is 127 but couldn't extract command name
	return "", true
}

// IsDependencyNotFound checks if a tool failed because something it
// delegates to is missing, such as a systemd unit that was never installed.
func IsDependencyNotFound(stderr string) (string, bool) {
	for _, pattern := range dependencyNotFoundPatterns {
		if matches := pattern.FindStringSubmatch(stderr); len(matches) > 1 {
			return matches[1], true
		}
	}
	return "", false
}

// isPermanent reports whether a finished attempt must not be retried: a
// missing command or dependency, or stderr matching a caller-supplied
// pattern.
func isPermanent(stderr string, exitCode int, extra []*regexp.Regexp) bool {
	if _, ok := IsCommandNotFound(stderr, exitCode); ok {
		return true
	}
	if _, ok := IsDependencyNotFound(stderr); ok {
		return true
	}
	for _, p := range extra {
		if p != nil && p.MatchString(stderr) {
			return true
		}
	}
	return false
}
