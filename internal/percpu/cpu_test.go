package percpu

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/melloos/kernel/internal/ids"
)

func TestRunQueueFIFOOrder(t *testing.T) {
	var q RunQueue
	q.Lock()
	q.PushBack(1)
	q.PushBack(2)
	q.PushBack(3)
	q.Unlock()

	require.Equal(t, 3, q.Len())

	q.Lock()
	front, ok := q.Front()
	q.Unlock()
	require.True(t, ok)
	require.Equal(t, ids.TaskID(1), front)
	require.Equal(t, 3, q.Len(), "Front must not remove")

	q.Lock()
	got, ok := q.PopFront()
	q.Unlock()
	require.True(t, ok)
	require.Equal(t, ids.TaskID(1), got)
	require.Equal(t, 2, q.Len())
}

func TestRunQueueRemoveFromMiddle(t *testing.T) {
	var q RunQueue
	q.Lock()
	q.PushBack(1)
	q.PushBack(2)
	q.PushBack(3)
	removed := q.Remove(2)
	q.Unlock()

	require.True(t, removed)
	require.Equal(t, []ids.TaskID{1, 3}, q.Snapshot())

	q.Lock()
	again := q.Remove(2)
	q.Unlock()
	require.False(t, again, "removing an absent task reports false")
}

func TestRunQueueEmptyPopAndFront(t *testing.T) {
	var q RunQueue
	q.Lock()
	_, ok := q.PopFront()
	q.Unlock()
	require.False(t, ok)

	q.Lock()
	_, ok = q.Front()
	q.Unlock()
	require.False(t, ok)
}

func TestRunQueueTracksContentionPerLock(t *testing.T) {
	var q RunQueue
	require.EqualValues(t, 0, q.Contentions())

	q.Lock()
	q.Unlock()
	q.Lock()
	q.Unlock()
	require.EqualValues(t, 2, q.Contentions())
}

func TestCpuCurrentPanicsBeforePublish(t *testing.T) {
	c := New(0, 0, 100, ids.TaskID(9999))
	require.Panics(t, func() { c.Current() })
}

func TestCpuCurrentAndSetCurrentAfterPublish(t *testing.T) {
	c := New(0, 0, 100, ids.TaskID(9999))
	c.Publish()

	c.SetCurrent(ids.TaskID(42))
	require.Equal(t, ids.TaskID(42), c.Current())
}

func TestCpuRescheduleFlagIsConsumedOnce(t *testing.T) {
	c := New(0, 0, 100, ids.TaskID(9999))
	require.False(t, c.TakeReschedule())

	c.RequestReschedule()
	require.True(t, c.TakeReschedule())
	require.False(t, c.TakeReschedule(), "TakeReschedule must consume the flag")
}

func TestCpuTicksAccumulate(t *testing.T) {
	c := New(0, 0, 100, ids.TaskID(9999))
	require.EqualValues(t, 0, c.Ticks())
	c.TickOnce()
	c.TickOnce()
	require.EqualValues(t, 2, c.Ticks())
}

func TestRegistryAllIsSortedByID(t *testing.T) {
	reg := NewRegistry()
	reg.Add(New(2, 2, 100, ids.TaskID(9997)))
	reg.Add(New(0, 0, 100, ids.TaskID(9998)))
	reg.Add(New(1, 1, 100, ids.TaskID(9999)))

	all := reg.All()
	require.Len(t, all, 3)
	require.Equal(t, ids.CpuID(0), all[0].ID)
	require.Equal(t, ids.CpuID(1), all[1].ID)
	require.Equal(t, ids.CpuID(2), all[2].ID)
	require.Equal(t, 3, reg.Count())
}

func TestRegistryGetMissingReturnsNil(t *testing.T) {
	reg := NewRegistry()
	require.Nil(t, reg.Get(99))
}
