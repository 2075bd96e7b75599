package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackLIFO(t *testing.T) {
	s := NewStack()
	s.PushInt(1)
	s.PushFloat(2.5)
	s.PushString("three")

	require.Equal(t, 3, s.Size())
	assert.Equal(t, "three", s.PopString())
	assert.Equal(t, float32(2.5), s.PopFloat())
	assert.Equal(t, int32(1), s.PopInt())
	assert.Equal(t, 0, s.Size())
}

func TestStackSizeTracksPushesAndPops(t *testing.T) {
	var s Stack
	for i := 0; i < 10; i++ {
		s.PushInt(int32(i))
	}
	for i := 0; i < 4; i++ {
		s.Pop()
	}
	assert.Equal(t, 6, s.Size())
	assert.Equal(t, int32(5), s.Peek(0).AsInt())
	assert.Equal(t, int32(0), s.Peek(5).AsInt())
}

func TestStackAtMutatesInPlace(t *testing.T) {
	s := NewStack()
	s.PushInt(1)
	s.PushInt(2)
	*s.At(1) = FromFloat(9)
	assert.Equal(t, FromFloat(9), s.Peek(1))
	assert.Equal(t, FromInt(2), s.Peek(0))
}

func TestStackFatalConditions(t *testing.T) {
	assertFatal := func(t *testing.T, op string, f func()) {
		t.Helper()
		defer func() {
			fe, ok := IsFatal(recover())
			require.True(t, ok, "expected FatalError")
			assert.Equal(t, op, fe.Op)
		}()
		f()
	}

	t.Run("underflow", func(t *testing.T) {
		assertFatal(t, "Pop", func() { NewStack().Pop() })
	})
	t.Run("overflow", func(t *testing.T) {
		s := NewStack()
		for i := 0; i < StackCapacity; i++ {
			s.PushInt(int32(i))
		}
		assertFatal(t, "Push", func() { s.PushInt(0) })
	})
	t.Run("peek out of range", func(t *testing.T) {
		s := NewStack()
		s.PushInt(1)
		assertFatal(t, "Peek", func() { s.Peek(1) })
	})
}

func TestStackClearAndValues(t *testing.T) {
	s := NewStack()
	s.PushInt(1)
	s.PushString("x")
	assert.Equal(t, []Value{FromInt(1), FromString("x")}, s.Values())
	s.Clear()
	assert.Equal(t, 0, s.Size())
}
