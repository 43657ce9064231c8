package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tryffel.net/go/airwave/internal/eventbus"
	"tryffel.net/go/airwave/internal/model"
	"tryffel.net/go/airwave/internal/repository"
)

func newItem(id string, p model.Priority) model.QueueItem {
	return model.QueueItem{
		Descriptor: model.TrackDescriptor{Id: id, Title: id},
		Priority:   p,
	}
}

func newTestManager() *Manager {
	return NewManager(eventbus.New(), repository.NewMemory())
}

func TestManager_AddOrdersByPriorityClass(t *testing.T) {
	m := newTestManager()

	require.NoError(t, m.Add(newItem("n1", model.PriorityNormal)))
	require.NoError(t, m.Add(newItem("v1", model.PriorityVip)))
	require.NoError(t, m.Add(newItem("n2", model.PriorityNormal)))
	require.NoError(t, m.Add(newItem("v2", model.PriorityVip)))

	ids := idsOf(m.Snapshot())
	assert.Equal(t, []string{"v1", "v2", "n1", "n2"}, ids)
}

func TestManager_AddFirstGoesToAbsoluteHead(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.Add(newItem("v1", model.PriorityVip)))
	require.NoError(t, m.AddFirst(newItem("sys1", model.PrioritySystem)))

	ids := idsOf(m.Snapshot())
	assert.Equal(t, []string{"sys1", "v1"}, ids)
}

func TestManager_AddDuplicateRejected(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.Add(newItem("a", model.PriorityNormal)))

	err := m.Add(newItem("a", model.PriorityNormal))
	require.Error(t, err)
	assert.True(t, model.Is(err, model.KindDuplicateRequest))
}

func TestManager_ReorderWithinClass(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.Add(newItem("n1", model.PriorityNormal)))
	require.NoError(t, m.Add(newItem("n2", model.PriorityNormal)))
	require.NoError(t, m.Add(newItem("n3", model.PriorityNormal)))

	require.NoError(t, m.Reorder(2, 0))
	assert.Equal(t, []string{"n3", "n1", "n2"}, idsOf(m.Snapshot()))
}

func TestManager_ReorderAcrossClassesRejected(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.Add(newItem("v1", model.PriorityVip)))
	require.NoError(t, m.Add(newItem("n1", model.PriorityNormal)))

	err := m.Reorder(1, 0)
	require.Error(t, err)
	assert.True(t, model.Is(err, model.KindInvalidMove))
	assert.Equal(t, []string{"v1", "n1"}, idsOf(m.Snapshot()))
}

func TestManager_RemoveOutOfRange(t *testing.T) {
	m := newTestManager()
	err := m.Remove(0)
	require.Error(t, err)
	assert.True(t, model.Is(err, model.KindOutOfRange))
}

func TestManager_ClearEmptiesQueueAndAllowsReuseOfIds(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.Add(newItem("a", model.PriorityNormal)))
	m.Clear()
	assert.Empty(t, m.Snapshot())

	require.NoError(t, m.Add(newItem("a", model.PriorityNormal)))
	assert.Len(t, m.Snapshot(), 1)
}

func TestManager_PopReturnsHeadInFIFOOrder(t *testing.T) {
	m := newTestManager()
	require.NoError(t, m.Add(newItem("a", model.PriorityNormal)))
	require.NoError(t, m.Add(newItem("b", model.PriorityNormal)))

	first, ok := m.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", first.Id())

	second, ok := m.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", second.Id())

	_, ok = m.Pop()
	assert.False(t, ok)
}

func TestManager_PersistNowWritesThroughToRepository(t *testing.T) {
	repo := repository.NewMemory()
	m := NewManager(eventbus.New(), repo)
	require.NoError(t, m.Add(newItem("a", model.PriorityNormal)))
	require.NoError(t, m.Add(newItem("b", model.PriorityVip)))

	require.NoError(t, m.PersistNow())

	restored, err := repo.LoadQueue()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, idsOf(restored))
}

func TestManager_LoadQueueRestoresOrderAndInsertionCounter(t *testing.T) {
	repo := repository.NewMemory()
	seed := NewManager(eventbus.New(), repo)
	require.NoError(t, seed.Add(newItem("a", model.PriorityNormal)))
	require.NoError(t, seed.Add(newItem("b", model.PriorityNormal)))
	require.NoError(t, seed.PersistNow())

	m := NewManager(eventbus.New(), repo)
	require.NoError(t, m.LoadQueue())
	assert.Equal(t, []string{"a", "b"}, idsOf(m.Snapshot()))

	require.NoError(t, m.Add(newItem("c", model.PriorityNormal)))
	assert.Equal(t, []string{"a", "b", "c"}, idsOf(m.Snapshot()))
}

func idsOf(items []model.QueueItem) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.Id()
	}
	return ids
}
