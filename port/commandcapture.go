package port

// CommandCapture collects the combined stdout/stderr of a scanner run in
// Captured mode. Implementations are provided by adapters/commandcapture.
type CommandCapture interface {
	// Enable starts capturing into buf; reset restores the writers the
	// command had before capturing was enabled.
	Enable(buf Buffer, reset func())
	Enabled() bool
	Finish() []byte
	Restore()
}

// Buffer abstracts the minimal buffer API needed by CommandCapture.
type Buffer interface {
	Grow(int)
	Bytes() []byte
}
