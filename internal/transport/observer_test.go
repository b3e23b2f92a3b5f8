package transport

import (
	"errors"
	"sync"
)

type recordingObserver struct {
	mu       sync.Mutex
	received int
	bytes    int
	dropped  []error
}

func (o *recordingObserver) PacketReceived(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received++
	o.bytes += n
}

func (o *recordingObserver) PacketDropped(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped = append(o.dropped, err)
}

func (o *recordingObserver) counts() (received, dropped int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.received, len(o.dropped)
}

func (o *recordingObserver) droppedWith(target error) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, err := range o.dropped {
		if errors.Is(err, target) {
			n++
		}
	}
	return n
}
