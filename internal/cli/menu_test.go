package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	exectesting "github.com/rileyhilliard/meshctl/internal/exec/testing"
)

// scriptSelect answers select prompts from a queue and records titles.
func scriptSelect(t *testing.T, answers ...string) *[]string {
	t.Helper()
	orig := selectFunc
	var titles []string
	selectFunc = func(title string, options []menuOption) (string, error) {
		titles = append(titles, title)
		if len(answers) == 0 {
			return "", nil
		}
		a := answers[0]
		answers = answers[1:]
		return a, nil
	}
	t.Cleanup(func() { selectFunc = orig })
	return &titles
}

func TestMenuEveryActionHasHandler(t *testing.T) {
	handlers := menuHandlers()
	for _, a := range menuOrder {
		if a == ActionQuit {
			continue
		}
		h, ok := handlers[a]
		if assert.True(t, ok, "no handler for %s", a) {
			assert.NotEmpty(t, h.Label, a.String())
			assert.NotNil(t, h.Run, a.String())
		}
	}
	assert.Len(t, handlers, len(menuOrder)-1)
}

func TestActionStringRoundTrip(t *testing.T) {
	seen := map[string]bool{}
	for _, a := range menuOrder {
		s := a.String()
		assert.False(t, seen[s], "duplicate action name %s", s)
		seen[s] = true

		got, ok := parseAction(s)
		require.True(t, ok, s)
		assert.Equal(t, a, got)
	}
	_, ok := parseAction("reboot")
	assert.False(t, ok)
	assert.Equal(t, "action(99)", Action(99).String())
}

func TestRunMenu_QuitsImmediately(t *testing.T) {
	cfg, _ := testConfig(t)
	app := newTestApp(t, cfg, exectesting.NewFakeRunner())
	titles := scriptSelect(t, ActionQuit.String())

	var buf bytes.Buffer
	require.NoError(t, runMenu(context.Background(), &buf, app))
	assert.Len(t, *titles, 1)
	assert.Empty(t, buf.String())
}

func TestRunMenu_BackingOutQuits(t *testing.T) {
	cfg, _ := testConfig(t)
	app := newTestApp(t, cfg, exectesting.NewFakeRunner())
	scriptSelect(t)

	var buf bytes.Buffer
	require.NoError(t, runMenu(context.Background(), &buf, app))
}

func TestRunMenu_ActionErrorsDoNotEndTheMenu(t *testing.T) {
	cfg, _ := testConfig(t)
	d := &fakeDaemon{}
	r := d.routes(exectesting.NewFakeRunner())
	app := newTestApp(t, cfg, r)
	titles := scriptSelect(t,
		ActionStartService.String(), "nomadnet",
		ActionListBackups.String(),
		ActionStartService.String(), "rnsd",
		ActionQuit.String(),
	)

	var buf bytes.Buffer
	require.NoError(t, runMenu(context.Background(), &buf, app))

	out := buf.String()
	assert.Contains(t, out, "Service 'nomadnet' isn't configured")
	assert.Contains(t, out, "No snapshots yet")
	assert.Contains(t, out, "Starting rnsd")
	assert.True(t, d.isRunning())
	assert.Contains(t, *titles, "Service to start")
}

func TestRunMenu_RestoreWithoutSnapshots(t *testing.T) {
	cfg, _ := testConfig(t)
	app := newTestApp(t, cfg, exectesting.NewFakeRunner())
	titles := scriptSelect(t, ActionRestoreBackup.String(), ActionQuit.String())

	var buf bytes.Buffer
	require.NoError(t, runMenu(context.Background(), &buf, app))
	assert.Contains(t, buf.String(), "No snapshots yet.")
	assert.Len(t, *titles, 2, "no snapshot picker without snapshots")
}

func TestRunMenu_StopsWhenCancelled(t *testing.T) {
	cfg, _ := testConfig(t)
	app := newTestApp(t, cfg, exectesting.NewFakeRunner())
	titles := scriptSelect(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	require.NoError(t, runMenu(ctx, &buf, app))
	assert.Empty(t, *titles)
}

func TestRunMenu_PruneWithoutRetention(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Backup.Keep = 0
	app := newTestApp(t, cfg, exectesting.NewFakeRunner())
	scriptSelect(t, ActionPruneBackups.String(), ActionQuit.String())

	var buf bytes.Buffer
	require.NoError(t, runMenu(context.Background(), &buf, app))
	assert.Contains(t, buf.String(), "no retention limit")
}
