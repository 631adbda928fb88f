package media

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
)

// ErrNoPorts is returned when every port in the range is in use.
var ErrNoPorts = errors.New("no RTP ports available")

// PortRange hands out even RTP ports from [min, max]. The odd port above
// each is left for RTCP. A nil *PortRange lets the OS pick.
type PortRange struct {
	mu    sync.Mutex
	min   int
	max   int
	next  int
	inUse map[int]bool
}

// NewPortRange creates a range. min is rounded up to even.
func NewPortRange(min, max int) (*PortRange, error) {
	if min%2 != 0 {
		min++
	}
	if min < 1024 || max > 65535 || min >= max {
		return nil, fmt.Errorf("invalid RTP port range %d-%d", min, max)
	}
	return &PortRange{min: min, max: max, next: min, inUse: make(map[int]bool)}, nil
}

// Size returns the number of port pairs in the range.
func (r *PortRange) Size() int {
	return (r.max-r.min)/2 + 1
}

// InUse returns the number of allocated ports.
func (r *PortRange) InUse() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inUse)
}

// Listen opens a stream on the next free port. Ports held by other
// processes are skipped. The port returns to the range on Close.
func (r *PortRange) Listen(bindAddr string) (*Stream, error) {
	if r == nil {
		return Listen(bindAddr)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < r.Size(); i++ {
		port := r.next
		r.next += 2
		if r.next > r.max {
			r.next = r.min
		}
		if r.inUse[port] {
			continue
		}

		conn, err := net.ListenPacket("udp4", net.JoinHostPort(bindAddr, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		r.inUse[port] = true
		s := newStream(conn)
		s.release = func() { r.release(port) }
		return s, nil
	}
	return nil, fmt.Errorf("%w in range %d-%d", ErrNoPorts, r.min, r.max)
}

func (r *PortRange) release(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inUse, port)
}
