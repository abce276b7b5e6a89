package tool

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullCoversEveryTrackingOp(t *testing.T) {
	s := New(Full)
	for _, op := range Ops() {
		if op == OpCoverageHit {
			continue
		}
		name, err := s.Name(op)
		require.NoError(t, err, op.String())
		assert.NotEmpty(t, name, "full strategy has no name for %v", op)
	}
}

func TestCompatUnsupported(t *testing.T) {
	s := New(Compat)
	for _, op := range []Op{OpAddIntentTaintObject, OpAddBundleTaintObject} {
		_, err := s.Name(op)
		assert.True(t, errors.Is(err, ErrUnsupported), op.String())
	}

	name, err := s.Name(OpAddBundleTaint)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, compatRuntime), name)

	mv, err := s.Name(OpMoveTaint)
	require.NoError(t, err)
	assert.Equal(t, "move/from16", mv)
}

func TestNoOpEmitsNothing(t *testing.T) {
	s := New(NoOp)
	assert.False(t, s.Tracks())
	assert.False(t, s.Covers())
	for _, op := range Ops() {
		name, err := s.Name(op)
		require.NoError(t, err)
		assert.Empty(t, name, op.String())
	}
}

func TestCoverage(t *testing.T) {
	s := New(Coverage)
	assert.True(t, s.Covers())
	assert.False(t, s.Tracks())

	hit, err := s.Name(OpCoverageHit)
	require.NoError(t, err)
	assert.Equal(t, "Lsmalitaint/runtime/Coverage;->hit(I)V", hit)

	name, err := s.Name(OpAddIntentTaint)
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestParseKind(t *testing.T) {
	for k, n := range kindNames {
		got, err := ParseKind(strings.ToUpper(n))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("bogus")
	assert.Error(t, err)
}

func TestZeroValueIsFull(t *testing.T) {
	var s Strategy
	assert.Equal(t, Full, s.Kind())
	assert.Equal(t, "move/16", s.MustName(OpMoveTaintWide))
}
