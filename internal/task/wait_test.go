package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/melloos/kernel/internal/ids"
	"github.com/melloos/kernel/internal/kerr"
)

func TestWait4ReturnsECHILDWithNoMatchingChildren(t *testing.T) {
	tb, _, _ := newTestTable(1)
	init := tb.SpawnInit(0, noopEntry)

	_, _, err := tb.Wait4(init, 0, WaitOpts{NoHang: true})
	require.ErrorIs(t, err, kerr.ECHILD)
}

func TestWait4NoHangReturnsImmediatelyWhenNothingReady(t *testing.T) {
	tb, _, _ := newTestTable(1)
	init := tb.SpawnInit(0, noopEntry)
	_, err := tb.Fork(init, 0)
	require.NoError(t, err)

	id, _, err := tb.Wait4(init, 0, WaitOpts{NoHang: true})
	require.NoError(t, err)
	require.Equal(t, ids.NoTask, id, "no child has exited yet")
}

func TestWait4MatchesSpecificPgid(t *testing.T) {
	tb, _, _ := newTestTable(1)
	init := tb.SpawnInit(0, noopEntry)
	a, err := tb.Fork(init, 0)
	require.NoError(t, err)
	b, err := tb.Fork(init, 0)
	require.NoError(t, err)
	require.NoError(t, tb.Setpgid(b, 0)) // b leaves a's inherited pgid

	tb.Exit(b, 0, ExitStatus{Exited: true})

	id, status, err := tb.Wait4(init, -int32(b.Pgid()), WaitOpts{})
	require.NoError(t, err)
	require.Equal(t, b.ID, id)
	require.True(t, status.Exited)

	_, ok := tb.Get(a.ID)
	require.True(t, ok, "a must not be reaped by a wait4 targeting b's group")
}

func TestWait4AnyChildMatchesAcrossProcessGroups(t *testing.T) {
	tb, _, _ := newTestTable(1)
	init := tb.SpawnInit(0, noopEntry)
	child, err := tb.Fork(init, 0)
	require.NoError(t, err)
	require.NoError(t, tb.Setpgid(child, 0)) // child leaves init's group

	tb.Exit(child, 0, ExitStatus{Exited: true, ExitCode: 3})

	id, status, err := tb.Wait4(init, -1, WaitOpts{})
	require.NoError(t, err)
	require.Equal(t, child.ID, id)
	require.True(t, status.Exited)
	require.EqualValues(t, 3, status.ExitCode)

	_, ok := tb.Get(child.ID)
	require.False(t, ok, "the any-child wait must reap across process groups")
}

func TestWait4BlocksUntilChildExitsThenReaps(t *testing.T) {
	tb, _, _ := newTestTable(1)
	init := tb.SpawnInit(0, noopEntry)
	child, err := tb.Fork(init, 0)
	require.NoError(t, err)

	type result struct {
		id     ids.TaskID
		status ExitStatus
		err    error
	}
	done := make(chan result, 1)
	go func() {
		id, status, err := tb.Wait4(init, int32(child.ID), WaitOpts{})
		done <- result{id, status, err}
	}()

	eventually(t, func() bool {
		st, reason := init.State()
		return st.String() == "Sleeping" && string(reason) == "child"
	})

	tb.Exit(child, 0, ExitStatus{Exited: true, ExitCode: 5})

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Equal(t, child.ID, r.id)
		require.True(t, r.status.Exited)
		require.EqualValues(t, 5, r.status.ExitCode)
	case <-time.After(time.Second):
		t.Fatal("Wait4 never woke after child exit")
	}

	_, ok := tb.Get(child.ID)
	require.False(t, ok)
}
