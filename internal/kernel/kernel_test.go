package kernel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/melloos/kernel/internal/config"
	"github.com/melloos/kernel/internal/smp"
)

func testMADT() *smp.MADT {
	return &smp.MADT{LocalAPICAddr: 0xfee00000, ApicIDs: []uint8{0}}
}

func TestBootSpawnsInitWithConsole(t *testing.T) {
	k := New(config.Default())
	require.NoError(t, k.Boot(testMADT()))
	defer k.Shutdown()

	require.NotNil(t, k.Console)
	require.NotNil(t, k.initTask)
	require.Equal(t, k.Console, k.initTask.TTY())

	sid, ok := k.Console.Session()
	require.True(t, ok)
	require.Equal(t, k.initTask.Sid(), sid)
}

func TestProcStatReportsInit(t *testing.T) {
	k := New(config.Default())
	require.NoError(t, k.Boot(testMADT()))
	defer k.Shutdown()

	line, err := k.ProcStat(k.initTask.ID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "1 "))
}

func TestProcDebugSessionsListsConsoleSession(t *testing.T) {
	k := New(config.Default())
	require.NoError(t, k.Boot(testMADT()))
	defer k.Shutdown()

	out := k.ProcDebugSessions()
	require.Contains(t, out, "has_tty=true")
}

func TestProcDebugPtysCountsConsole(t *testing.T) {
	k := New(config.Default())
	require.NoError(t, k.Boot(testMADT()))
	defer k.Shutdown()

	require.Equal(t, "ptys_allocated=1\n", k.ProcDebugPtys())
}

func TestProcDebugLocksListsEachCPU(t *testing.T) {
	k := New(config.Default())
	require.NoError(t, k.Boot(testMADT()))
	defer k.Shutdown()

	out := k.ProcDebugLocks()
	require.Contains(t, out, "cpu=0")
}
