package archive

import (
	osexec "os/exec"
	"testing"
)

func requireTar(t *testing.T) {
	t.Helper()
	if _, err := osexec.LookPath("tar"); err != nil {
		t.Skip("tar not available")
	}
}
