package cli

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/meshctl/internal/config"
	"github.com/rileyhilliard/meshctl/internal/exec"
	exectesting "github.com/rileyhilliard/meshctl/internal/exec/testing"
)

// fakeDaemon answers the rnsd alive check and flips on start/stop.
type fakeDaemon struct {
	mu      sync.Mutex
	running bool
	// ignore makes start and stop succeed without any effect.
	ignore bool
}

func (d *fakeDaemon) isRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *fakeDaemon) set(running bool) exec.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ignore {
		d.running = running
	}
	return exectesting.Success("")
}

func (d *fakeDaemon) routes(r *exectesting.FakeRunner) *exectesting.FakeRunner {
	return r.
		On("pgrep -x rnsd", func(exec.Spec) exec.Result {
			if d.isRunning() {
				return exectesting.Success("4242\n")
			}
			return exectesting.Failure(1, "")
		}).
		On("systemctl --user start rnsd", func(exec.Spec) exec.Result { return d.set(true) }).
		On("systemctl --user stop rnsd", func(exec.Spec) exec.Result { return d.set(false) }).
		Returns("rnsd --version", exectesting.Success("rnsd 0.9.2\n"))
}

// testConfig points every path at a temp home with one fast-polling
// service.
func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	home := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Log.Path = filepath.Join(home, "state", "meshctl.log")
	cfg.Backup.Root = filepath.Join(home, "backups")
	cfg.Backup.Sources = []string{filepath.Join(home, ".reticulum"), filepath.Join(home, ".lxmf")}
	cfg.Backup.ImportRoot = home
	cfg.Backup.LockTimeout = time.Second
	cfg.Services = map[string]config.ServiceConfig{
		"rnsd": {
			Alive:        []string{"pgrep", "-x", "rnsd"},
			Start:        []string{"systemctl", "--user", "start", "rnsd"},
			Stop:         []string{"systemctl", "--user", "stop", "rnsd"},
			Version:      []string{"rnsd", "--version"},
			PollInterval: time.Millisecond,
			MaxWait:      20 * time.Millisecond,
		},
	}
	return cfg, home
}

func newTestApp(t *testing.T, cfg *config.Config, runner exec.CommandRunner) *App {
	t.Helper()
	app, err := newApp(cfg, "", WithRunner(runner))
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// withYes sets --yes for the duration of the test.
func withYes(t *testing.T) {
	t.Helper()
	orig := yesFlag
	yesFlag = true
	t.Cleanup(func() { yesFlag = orig })
}

// withTerminal replaces the terminal check and the confirm prompt.
func withTerminal(t *testing.T, isTTY bool, answer bool) *[]string {
	t.Helper()
	origInteractive, origConfirm := interactive, confirmFunc
	var asked []string
	interactive = func() bool { return isTTY }
	confirmFunc = func(title, description string) (bool, error) {
		asked = append(asked, title)
		return answer, nil
	}
	t.Cleanup(func() {
		interactive, confirmFunc = origInteractive, origConfirm
	})
	return &asked
}

func withMachineMode(t *testing.T) {
	t.Helper()
	orig := machineMode
	machineMode = true
	t.Cleanup(func() { machineMode = orig })
}
