package commandcapture

import (
	"bytes"
	"slices"
	"sync"

	"github.com/sa6mwa/leakrun/port"
)

// capture implements port.CommandCapture.
type capture struct {
	mu      sync.Mutex
	buf     *bytes.Buffer
	reset   func()
	enabled bool
	once    sync.Once
}

// New constructs a disabled port.CommandCapture. Finish on a capture that was
// never enabled returns nil, which is how Inherit mode is represented.
func New() port.CommandCapture {
	return &capture{}
}

func (c *capture) Enable(buf port.Buffer, reset func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := buf.(*bytes.Buffer); ok {
		c.buf = b
	} else {
		c.buf = bytes.NewBuffer(slices.Clone(buf.Bytes()))
	}
	c.reset = reset
	c.enabled = true
}

func (c *capture) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Finish restores the command's writers and returns a copy of everything
// captured so far.
func (c *capture) Finish() []byte {
	c.Restore()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled || c.buf == nil {
		return nil
	}
	return slices.Clone(c.buf.Bytes())
}

func (c *capture) Restore() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		c.mu.Lock()
		reset := c.reset
		c.reset = nil
		c.mu.Unlock()
		if reset != nil {
			reset()
		}
	})
}
