package vm

// StackCapacity is the fixed number of slots in a thread's operand stack.
const StackCapacity = 1024

// Stack is a bounded LIFO of Values. Overflow, underflow and out-of-range
// peeks are fatal.
type Stack struct {
	slots []Value
}

// NewStack returns an empty stack with StackCapacity slots reserved.
func NewStack() *Stack {
	return &Stack{slots: make([]Value, 0, StackCapacity)}
}

func (s *Stack) ensure() {
	if s.slots == nil {
		s.slots = make([]Value, 0, StackCapacity)
	}
}

// Push appends v to the top of the stack.
func (s *Stack) Push(v Value) {
	s.ensure()
	if len(s.slots) >= StackCapacity {
		fatalf("Push", "stack overflow (%d slots)", StackCapacity)
	}
	s.slots = append(s.slots, v)
}

func (s *Stack) PushInt(i int32)     { s.Push(FromInt(i)) }
func (s *Stack) PushFloat(f float32) { s.Push(FromFloat(f)) }
func (s *Stack) PushString(v string) { s.Push(FromString(v)) }

// Pop removes and returns the top value.
func (s *Stack) Pop() Value {
	n := len(s.slots)
	if n == 0 {
		fatalf("Pop", "stack underflow")
	}
	v := s.slots[n-1]
	s.slots[n-1] = Value{}
	s.slots = s.slots[:n-1]
	return v
}

func (s *Stack) PopInt() int32     { return s.Pop().AsInt() }
func (s *Stack) PopFloat() float32 { return s.Pop().AsFloat() }
func (s *Stack) PopString() string { return s.Pop().AsString() }

// Peek returns the value k slots below the top (0 is the top).
func (s *Stack) Peek(k int) Value {
	return *s.At(k)
}

// At returns a pointer to the slot k below the top for in-place updates.
func (s *Stack) At(k int) *Value {
	n := len(s.slots)
	if k < 0 || k >= n {
		fatalf("Peek", "index %d out of range (size %d)", k, n)
	}
	return &s.slots[n-1-k]
}

// Size returns the number of values on the stack.
func (s *Stack) Size() int { return len(s.slots) }

// Clear empties the stack, keeping its storage.
func (s *Stack) Clear() {
	for i := range s.slots {
		s.slots[i] = Value{}
	}
	s.slots = s.slots[:0]
}

// Values returns a copy of the stack contents, bottom first.
func (s *Stack) Values() []Value {
	out := make([]Value, len(s.slots))
	copy(out, s.slots)
	return out
}
