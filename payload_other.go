//go:build !linux

package leakrun

func openPayload(p *payload) error {
	return p.writeTemporaryFile()
}
