package pargzip

import "sync"

type slotState int

const (
	slotEmpty slotState = iota
	slotFilled
	slotClosed
)

// Slot is a blocking handoff with room for a single payload. It connects
// exactly one producer with exactly one consumer: every worker inbox in the
// compressor and every read-ahead channel in the merger is a Slot.
//
// Send waits until the previous payload has been taken; Receive waits until
// a payload (or the end of the stream) is available. Sending an empty
// payload closes the slot, and a closed slot stays closed forever.
type Slot struct {
	mu      sync.Mutex
	cond    *sync.Cond
	state   slotState
	payload []byte
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	s := &Slot{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Send hands p to the consumer. A zero-length p marks the end of the
// stream. The caller gives up ownership of p.
func (s *Slot) Send(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.state == slotFilled {
		s.cond.Wait()
	}
	if s.state == slotClosed {
		panic("pargzip: send on closed slot")
	}
	if len(p) == 0 {
		s.state = slotClosed
		s.payload = nil
	} else {
		s.state = slotFilled
		s.payload = p
	}
	s.cond.Broadcast()
}

// Close sends the end-of-stream sentinel.
func (s *Slot) Close() {
	s.Send(nil)
}

// Receive returns the next payload, or false once the slot has been closed.
func (s *Slot) Receive() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.state == slotEmpty {
		s.cond.Wait()
	}
	if s.state == slotClosed {
		return nil, false
	}
	p := s.payload
	s.payload = nil
	s.state = slotEmpty
	s.cond.Broadcast()
	return p, true
}
