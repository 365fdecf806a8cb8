package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstInterning(t *testing.T) {
	assert.Same(t, NewConst(42), NewConst(42))
	assert.Same(t, NewConst("x"), NewConst("x"))
	assert.NotSame(t, NewConst(42), NewConst(43))

	// Uninternable literals get fresh instances.
	assert.NotSame(t, NewConst([]int{1}), NewConst([]int{1}))
}

func TestConnectOnlyOnce(t *testing.T) {
	c := NewCircuit()
	g := newNand(c, "g")
	g.Connect(In("a", true), In("b", false))

	assert.Panics(t, func() {
		g.Connect(In("a", true))
	})
}

func TestConnectAfterFinalizePanics(t *testing.T) {
	c := NewCircuit()
	newRegister(c, "r", WithInitDef(false))
	g := newNand(c, "late")

	require.NoError(t, c.Finalize())

	assert.Panics(t, func() {
		g.Connect(In("a", true), In("b", "r"))
	})
	assert.Panics(t, func() {
		newRegister(c, "tooLate")
	})
}

func TestLiteralInputsBecomeConsts(t *testing.T) {
	c := NewCircuit()
	sum := newAdder(c, "sum")
	sum.Connect(Ins(1, 2, 3))

	require.NoError(t, c.Finalize())

	assert.Empty(t, sum.iconnections)
	assert.Equal(t, []Value{1, 2, 3}, sum.GroupVals(UnnamedGroup))
}

func TestNameReferenceAndSameName(t *testing.T) {
	c := NewCircuit()
	newRegister(c, "b", WithInitDef(true))
	g := newNand(c, "g")
	g.Connect(In("a", "b"), In("b", SameName))

	require.NoError(t, c.Finalize())

	require.Len(t, g.iconnections, 1)
	for upstream := range g.iconnections {
		assert.Equal(t, "b", upstream.Name())
	}
}

func TestNotPrefixMaterializesInverter(t *testing.T) {
	c := NewCircuit()
	newRegister(c, "alarm", WithInitDef(true))
	g := newNand(c, "g")
	g.Connect(In("a", "_not_alarm"), In("b", true))

	require.NoError(t, c.Finalize())

	inv := c.Block("_not_alarm")
	require.NotNil(t, inv)
	assert.IsType(t, &Invert{}, inv)

	// The inverter reads the alarm block.
	alarm := c.Block("alarm")
	_, wired := alarm.base().oconnections[inv.(CBlock)]
	assert.True(t, wired)
}

func TestOconnectionsAreSymmetric(t *testing.T) {
	c := NewCircuit()
	r := newRegister(c, "r", WithInitDef(1))
	sum := newAdder(c, "sum")
	sum.Connect(Ins(r, 10))

	require.NoError(t, c.Finalize())

	_, forward := r.base().oconnections[CBlock(sum)]
	assert.True(t, forward)
	_, backward := sum.iconnections[Block(r)]
	assert.True(t, backward)
}

func TestCheckSignature(t *testing.T) {
	c := NewCircuit()
	g := newNand(c, "g")
	g.Connect(In("a", true), In("bb", false))

	err := g.CheckSignature(map[string]SigSpec{"a": Single, "b": Single})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unexpected input "bb"`)
	assert.Contains(t, err.Error(), `did you mean "b"?`)

	g2 := newNand(c, "g2")
	g2.Connect(In("a", true))

	err = g2.CheckSignature(map[string]SigSpec{"a": Single, "b": Single})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing input "b"`)
}

func TestCheckSignatureGroups(t *testing.T) {
	c := NewCircuit()
	sum := newAdder(c, "sum")
	sum.Connect(Ins(1, 2))

	require.NoError(t, sum.CheckSignature(map[string]SigSpec{
		UnnamedGroup: GroupRange(1, -1),
	}))

	err := sum.CheckSignature(map[string]SigSpec{UnnamedGroup: GroupOf(3)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 3")

	err = sum.CheckSignature(map[string]SigSpec{UnnamedGroup: Single})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "single connection")
}

func TestDifferentCircuitInputRejected(t *testing.T) {
	c1 := NewCircuit()
	c2 := NewCircuit()

	foreign := newRegister(c1, "foreign")
	g := newNand(c2, "g")
	g.Connect(In("a", foreign), In("b", true))

	err := c2.Finalize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "different circuit")
}
