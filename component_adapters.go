package piper

// This file contains adapter methods to make endpoints conform to the
// Component interface.

// Sender adapters

// Stop is an alias for Terminate to conform to the Component interface
func (s *Sender) Stop() error {
	return s.Terminate()
}

// Receiver adapters

// Stop waits for the reader to finish to conform to the Component interface.
// A Receiver cannot be cancelled; stop its Sender first. A clean close by
// the peer is not an error.
func (r *Receiver) Stop() error {
	return r.Wait()
}

var (
	_ Component = (*Sender)(nil)
	_ Component = (*Receiver)(nil)
	_ Component = (*Group)(nil)
	_ Component = (*Pipe)(nil)
	_ Component = (*FanIn)(nil)
)
