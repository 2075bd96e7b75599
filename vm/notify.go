package vm

// Completion signals that one asynchronous operation started from a wait
// block has finished. Done may be called from any goroutine; the VM applies
// it on the next Tick (or sooner, at the END_WAIT of the owning thread).
// Calling Done more than once, or after the owning thread was stopped, is a
// no-op. The zero Completion does nothing.
type Completion struct {
	vm    *VM
	index int32
	gen   uint32
}

// Done marks the operation complete.
func (c Completion) Done() {
	if c.vm == nil {
		return
	}
	c.vm.mu.Lock()
	c.vm.pending = append(c.vm.pending, c)
	c.vm.mu.Unlock()
}

// Valid reports whether the completion is bound to a thread.
func (c Completion) Valid() bool { return c.vm != nil }

// notifyLink tracks one outstanding completion. A link outlives its thread:
// when the thread is stopped the link is detached and waits for its
// completion to arrive before the slot is reused.
type notifyLink struct {
	thread   ThreadHandle
	attached bool
	inUse    bool
	gen      uint32
}

func (vm *VM) acquireLink(h ThreadHandle) Completion {
	t := vm.lookup(h)
	if t == nil {
		return Completion{}
	}
	var idx int32
	if n := len(vm.freeLinks); n > 0 {
		idx = vm.freeLinks[n-1]
		vm.freeLinks = vm.freeLinks[:n-1]
	} else {
		idx = int32(len(vm.links))
		vm.links = append(vm.links, notifyLink{})
	}
	link := &vm.links[idx]
	link.gen++
	link.thread = h
	link.attached = true
	link.inUse = true
	t.waitCount++
	return Completion{vm: vm, index: idx, gen: link.gen}
}

func (vm *VM) releaseLink(idx int32) {
	link := &vm.links[idx]
	link.inUse = false
	link.attached = false
	link.thread = ThreadHandle{}
	vm.freeLinks = append(vm.freeLinks, idx)
}

// detachLinks unbinds every outstanding link of a stopped thread so their
// eventual completions are ignored.
func (vm *VM) detachLinks(h ThreadHandle) {
	for i := range vm.links {
		if link := &vm.links[i]; link.inUse && link.thread == h {
			link.attached = false
		}
	}
}

// outstandingLinks counts links still waiting for a completion.
func (vm *VM) outstandingLinks() int {
	n := 0
	for i := range vm.links {
		if vm.links[i].inUse {
			n++
		}
	}
	return n
}

// drainCompletions applies every queued completion. Threads whose wait count
// reaches zero while blocked are queued for resumption. Returns the number
// of completions that were applied to a live thread.
func (vm *VM) drainCompletions() int {
	vm.mu.Lock()
	queue := vm.pending
	vm.pending = nil
	vm.mu.Unlock()

	applied := 0
	for _, c := range queue {
		if vm.applyCompletion(c) {
			applied++
		}
	}
	return applied
}

func (vm *VM) applyCompletion(c Completion) bool {
	if c.vm != vm || c.index < 0 || int(c.index) >= len(vm.links) {
		return false
	}
	link := &vm.links[c.index]
	if !link.inUse || link.gen != c.gen {
		return false
	}
	attached, h := link.attached, link.thread
	vm.releaseLink(c.index)
	if !attached {
		return false
	}
	t := vm.lookup(h)
	if t == nil {
		return false
	}
	if t.waitCount > 0 {
		t.waitCount--
	}
	if t.waitCount == 0 && t.state == ThreadBlocked {
		vm.ready = append(vm.ready, h)
	}
	return true
}

// PendingCompletions returns the number of completions queued but not yet
// applied.
func (vm *VM) PendingCompletions() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return len(vm.pending)
}
