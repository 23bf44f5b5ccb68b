//go:build !windows

package process

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalsAfterExitDoNotReachThePid(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a child process")
	}
	p, err := Start(helperSpec("echo"))
	require.NoError(t, err)
	<-p.Done()

	assert.NoError(t, reapGroup(p.cmd.Process), "a vanished group is not an error")
	assert.ErrorIs(t, killGroup(p.cmd.Process), os.ErrProcessDone, "a waited-for child is never signalled by PID")
	assert.ErrorIs(t, terminateGroup(p.cmd.Process), os.ErrProcessDone)
}
