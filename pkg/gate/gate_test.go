package gate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrorhub/pkg/models"
)

func TestGate_AdmitWithinLimits(t *testing.T) {
	g := New(2, 2)

	require.True(t, g.TryAdmit("t1", "alice", models.PriorityNormal).Granted)
	require.True(t, g.TryAdmit("t2", "bob", models.PriorityNormal).Granted)
	assert.Equal(t, 2, g.ActiveCount())

	adm := g.TryAdmit("t3", "carol", models.PriorityNormal)
	assert.False(t, adm.Granted)
	assert.Equal(t, 1, adm.Position)
	assert.Equal(t, 1, g.QueueLen())
}

func TestGate_PerOwnerLimit(t *testing.T) {
	// global limit 2, per-owner limit 1: owner A's second task waits even
	// while a global slot is free
	g := New(2, 1)

	require.True(t, g.TryAdmit("a1", "alice", models.PriorityNormal).Granted)

	adm := g.TryAdmit("a2", "alice", models.PriorityNormal)
	require.False(t, adm.Granted)
	assert.Equal(t, 1, g.ActiveCount(), "a global slot should still be free")

	// owner B is not blocked by owner A's queue entry at drain time
	require.True(t, g.TryAdmit("b1", "bob", models.PriorityNormal).Granted)
	assert.Equal(t, 2, g.ActiveCount())

	// releasing a1 admits a2
	admitted := g.Release("a1")
	require.Len(t, admitted, 1)
	assert.Equal(t, "a2", admitted[0].TaskID)
	assert.Equal(t, 1, g.ActiveFor("alice"))
}

func TestGate_BlockedHeadIsNotSkipped(t *testing.T) {
	g := New(2, 1)

	require.True(t, g.TryAdmit("a1", "alice", models.PriorityNormal).Granted)
	require.True(t, g.TryAdmit("b1", "bob", models.PriorityNormal).Granted)

	require.False(t, g.TryAdmit("a2", "alice", models.PriorityNormal).Granted)
	require.False(t, g.TryAdmit("c1", "carol", models.PriorityNormal).Granted)

	// b1 releases a global slot, but the head (a2) is still blocked on
	// alice's per-owner limit: nothing is admitted past it
	admitted := g.Release("b1")
	assert.Empty(t, admitted)
	assert.Equal(t, 1, g.Position("a2"))

	// once a1 releases, both fit
	admitted = g.Release("a1")
	require.Len(t, admitted, 2)
	assert.Equal(t, "a2", admitted[0].TaskID)
	assert.Equal(t, "c1", admitted[1].TaskID)
}

func TestGate_PriorityOrdering(t *testing.T) {
	g := New(1, 1)
	require.True(t, g.TryAdmit("t0", "owner0", models.PriorityNormal).Granted)

	g.TryAdmit("n1", "owner1", models.PriorityNormal)
	g.TryAdmit("n2", "owner2", models.PriorityNormal)
	adm := g.TryAdmit("h1", "owner3", models.PriorityHigh)

	// high priority inserts ahead of the queued normal entries
	assert.Equal(t, 1, adm.Position)
	assert.Equal(t, 1, g.Position("h1"))
	assert.Equal(t, 2, g.Position("n1"))
	assert.Equal(t, 3, g.Position("n2"))

	admitted := g.Release("t0")
	require.Len(t, admitted, 1)
	assert.Equal(t, "h1", admitted[0].TaskID)
}

func TestGate_FIFOWithinPriorityClass(t *testing.T) {
	g := New(1, 1)
	require.True(t, g.TryAdmit("t0", "owner0", models.PriorityNormal).Granted)

	for i := 1; i <= 3; i++ {
		g.TryAdmit(fmt.Sprintf("n%d", i), fmt.Sprintf("owner%d", i), models.PriorityNormal)
	}
	g.TryAdmit("h1", "ownerH1", models.PriorityHigh)
	g.TryAdmit("h2", "ownerH2", models.PriorityHigh)

	var order []string
	current := "t0"
	for len(order) < 5 {
		admitted := g.Release(current)
		require.Len(t, admitted, 1)
		current = admitted[0].TaskID
		order = append(order, current)
	}
	assert.Equal(t, []string{"h1", "h2", "n1", "n2", "n3"}, order)
}

func TestGate_ReleaseUnknownIsNoOp(t *testing.T) {
	g := New(2, 2)
	require.True(t, g.TryAdmit("t1", "alice", models.PriorityNormal).Granted)

	assert.Empty(t, g.Release("ghost"))
	assert.Equal(t, 1, g.ActiveCount(), "bookkeeping must be untouched")

	// double release of the same slot
	g.Release("t1")
	assert.Empty(t, g.Release("t1"))
	assert.Equal(t, 0, g.ActiveCount())
}

func TestGate_Remove(t *testing.T) {
	g := New(1, 1)
	require.True(t, g.TryAdmit("t0", "owner0", models.PriorityNormal).Granted)
	g.TryAdmit("t1", "owner1", models.PriorityNormal)

	assert.True(t, g.Remove("t1"))
	assert.Equal(t, 0, g.QueueLen())
	assert.False(t, g.Remove("t1"), "already removed")
	assert.False(t, g.Remove("t0"), "active, not queued")
}

func TestGate_SetLimitsAdmitsWaiters(t *testing.T) {
	g := New(1, 1)
	require.True(t, g.TryAdmit("t0", "owner0", models.PriorityNormal).Granted)
	g.TryAdmit("t1", "owner1", models.PriorityNormal)
	g.TryAdmit("t2", "owner2", models.PriorityNormal)

	admitted := g.SetLimits(3, 1)
	require.Len(t, admitted, 2)
	assert.Equal(t, 3, g.ActiveCount())

	// lowering never evicts
	g.SetLimits(1, 1)
	assert.Equal(t, 3, g.ActiveCount())
	globalMax, _ := g.Limits()
	assert.Equal(t, 1, globalMax)

	// but no new admissions until the count drops below the new limit
	adm := g.TryAdmit("t3", "owner3", models.PriorityNormal)
	assert.False(t, adm.Granted)
	assert.Empty(t, g.Release("t0"))
	assert.Empty(t, g.Release("t1"))
	admitted = g.Release("t2")
	require.Len(t, admitted, 1)
	assert.Equal(t, "t3", admitted[0].TaskID)
}

func TestGate_DoubleAdmitKeepsOneSlot(t *testing.T) {
	g := New(2, 2)
	require.True(t, g.TryAdmit("t1", "alice", models.PriorityNormal).Granted)
	require.True(t, g.TryAdmit("t1", "alice", models.PriorityNormal).Granted)
	assert.Equal(t, 1, g.ActiveCount())
}
