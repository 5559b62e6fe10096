//go:build linux

package procgroup

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_MakesProcessItsOwnGroupLeader(t *testing.T) {
	cmd := exec.Command("sh", "-c", "sleep 5 & sleep 5")
	Set(cmd)

	require.NoError(t, cmd.Start())
	defer func() { _ = cmd.Process.Kill() }()

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, pgid)
}

func TestKill_SignalsTheWholeGroup(t *testing.T) {
	cmd := exec.Command("sh", "-c", "sleep 30 & sleep 30")
	Set(cmd)
	require.NoError(t, cmd.Start())

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, Kill(cmd, syscall.SIGKILL))

	_ = cmd.Wait()
	time.Sleep(50 * time.Millisecond)

	err = syscall.Kill(-pgid, syscall.Signal(0))
	assert.ErrorIs(t, err, syscall.ESRCH, "killing the group leader must reap its background child too")
}

func TestKill_NilCommandIsNoop(t *testing.T) {
	assert.NoError(t, Kill(nil, syscall.SIGTERM))
	assert.NoError(t, Kill(&exec.Cmd{}, syscall.SIGTERM))
}

func TestKillGroup_EscalatesFromTermToKillAfterGrace(t *testing.T) {
	cmd := exec.Command("sh", "-c", "trap '' TERM; sleep 30")
	Set(cmd)
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid

	start := time.Now()
	err := KillGroup(pid, 100*time.Millisecond, 2*time.Second)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond, "must wait out the grace period before escalating")

	_ = cmd.Wait()
}

func TestKillGroup_AlreadyGoneReturnsNil(t *testing.T) {
	err := KillGroup(999999, 10*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)
}

func TestKillGroup_NonPositivePIDIsNoop(t *testing.T) {
	assert.NoError(t, KillGroup(0, time.Millisecond, time.Millisecond))
	assert.NoError(t, KillGroup(-1, time.Millisecond, time.Millisecond))
}

func TestKill_MissingGroupReturnsNilNotError(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	require.NoError(t, cmd.Wait())

	require.NoError(t, Kill(cmd, syscall.SIGTERM))
}
