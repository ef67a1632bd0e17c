package exec

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCommandNotFound(t *testing.T) {
	tests := []struct {
		name      string
		stderr    string
		exitCode  int
		wantCmd   string
		wantFound bool
	}{
		{
			name:      "bash command not found",
			stderr:    "bash: rnsd: command not found",
			exitCode:  127,
			wantCmd:   "rnsd",
			wantFound: true,
		},
		{
			name:      "sudo command not found",
			stderr:    "sudo: nomadnet: command not found",
			exitCode:  127,
			wantCmd:   "nomadnet",
			wantFound: true,
		},
		{
			name:      "env no such file",
			stderr:    "env: 'rnstatus': No such file or directory",
			exitCode:  127,
			wantCmd:   "rnstatus",
			wantFound: true,
		},
		{
			name:      "sh not found",
			stderr:    "sh: 1: lxmd: not found",
			exitCode:  127,
			wantCmd:   "lxmd",
			wantFound: true,
		},
		{
			name:      "exit code 127 no pattern match",
			stderr:    "some other error message",
			exitCode:  127,
			wantCmd:   "",
			wantFound: true,
		},
		{
			name:      "wrong exit code",
			stderr:    "bash: rnsd: command not found",
			exitCode:  1,
			wantCmd:   "",
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, found := IsCommandNotFound(tt.stderr, tt.exitCode)
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, tt.wantCmd, cmd)
		})
	}
}

func TestIsDependencyNotFound(t *testing.T) {
	tests := []struct {
		name      string
		stderr    string
		wantCmd   string
		wantFound bool
	}{
		{"systemd unit missing", "Failed to start rnsd.service: Unit rnsd.service not found.", "rnsd.service", true},
		{"shebang interpreter missing", "env: python3: No such file or directory", "python3", true},
		{"ordinary failure", "Address already in use", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, found := IsDependencyNotFound(tt.stderr)
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, tt.wantCmd, cmd)
		})
	}
}

func TestIsPermanent(t *testing.T) {
	validation := regexp.MustCompile(`invalid configuration`)

	assert.True(t, isPermanent("bash: x: command not found", 127, nil))
	assert.True(t, isPermanent("error: invalid configuration in section", 1, []*regexp.Regexp{validation}))
	assert.False(t, isPermanent("connection reset", 1, []*regexp.Regexp{validation}))
	assert.False(t, isPermanent("", 1, []*regexp.Regexp{nil}))
}
