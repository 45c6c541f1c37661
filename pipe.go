package piper

import "path/filepath"

// Pipe pairs a Sender and a Receiver over one FIFO created by a Manager.
// It is mostly useful in tests and for handing a connected pair around
// within one process; across processes, share the path from MakePipe and
// construct the endpoints on each side.
type Pipe struct {
	*Group
	manager  *Manager
	path     string
	sender   *Sender
	receiver *Receiver
}

// OpenPipe makes a new FIFO in m, connects a Receiver and a Sender to it and
// waits until both ends are open. The options apply to both endpoints.
func OpenPipe(m *Manager, opts ...Option) (*Pipe, error) {
	path, err := m.MakePipe()
	if err != nil {
		return nil, err
	}
	receiver := NewReceiver(path, opts...)
	sender := NewSender(path, opts...)
	<-receiver.Opened()
	if err := receiver.Err(); err != nil {
		sender.Terminate()
		m.RemovePipe(path)
		return nil, err
	}

	group := NewGroup(filepath.Base(path))
	group.Add(receiver, sender)
	return &Pipe{
		Group:    group,
		manager:  m,
		path:     path,
		sender:   sender,
		receiver: receiver,
	}, nil
}

// Path returns the FIFO path.
func (p *Pipe) Path() string {
	return p.path
}

// Sender returns the write end.
func (p *Pipe) Sender() *Sender {
	return p.sender
}

// Receiver returns the read end.
func (p *Pipe) Receiver() *Receiver {
	return p.receiver
}

// Send writes msg through the pipe's Sender.
func (p *Pipe) Send(msg []byte) error {
	return p.sender.Send(msg)
}

// Receive reads from the pipe's Receiver.
func (p *Pipe) Receive(block bool) ([]byte, bool) {
	return p.receiver.Receive(block)
}

// Stop terminates the Sender, waits for the Receiver to drain the close and
// removes the FIFO.
func (p *Pipe) Stop() error {
	err := p.Group.Stop()
	p.manager.RemovePipe(p.path)
	return err
}
