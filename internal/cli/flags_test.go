package cli

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/meshctl/internal/errors"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		name    string
		flag    string
		want    time.Duration
		wantErr string
	}{
		{name: "seconds", flag: "2s", want: 2 * time.Second},
		{name: "at the minimum", flag: "500ms", want: 500 * time.Millisecond},
		{name: "minutes", flag: "1m", want: time.Minute},
		{name: "too short", flag: "100ms", wantErr: "too short"},
		{name: "garbage", flag: "fast", wantErr: "valid interval"},
		{name: "bare number", flag: "5", wantErr: "valid interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInterval(tt.flag, 500*time.Millisecond)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.True(t, errors.IsCode(err, errors.ErrConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddJSONFlag(t *testing.T) {
	orig := machineMode
	defer func() { machineMode = orig }()

	cmd := &cobra.Command{Use: "x", RunE: func(*cobra.Command, []string) error { return nil }}
	AddJSONFlag(cmd)
	cmd.SetArgs([]string{"--json"})
	require.NoError(t, cmd.Execute())
	assert.True(t, MachineMode())
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "Refusing to prune", firstLine("✗ Refusing to prune\n\n  cause\n\n  hint"))
	assert.Equal(t, "single", firstLine("single"))
	assert.Equal(t, "", firstLine(""))
}
