// Package piper provides broker-less, point-to-point message passing between
// local processes over POSIX named pipes (FIFOs).
//
// Every message travels as one frame: an 8 byte, zero padded, hexadecimal ASCII
// length followed by exactly that many payload bytes. Messages are opaque byte
// slices and may contain any byte value, including zero.
//
// The main components include:
//
//   - Manager: Creates uniquely named FIFOs inside a directory, removes them and clears the directory
//   - Sender: Owns the write end of one FIFO; a background goroutine drains a single-slot mailbox
//   - Receiver: Owns the read end of one FIFO; a background goroutine decodes frames into a FIFO queue
//   - Pipe: An in-process Sender and Receiver pair over a freshly made FIFO
//   - Group: A set of components that are stopped together in reverse order
//   - FanIn: Merges the messages of several Receivers into one channel
//
// A typical exchange between two processes:
//
//	mgr, _ := piper.NewManager("/tmp/piper")
//	path, _ := mgr.MakePipe()
//
//	// process A
//	s := piper.NewSender(path)
//	defer s.Terminate()
//	_ = s.Send([]byte("hello"))
//
//	// process B
//	r := piper.NewReceiver(path)
//	msg, ok := r.Receive(true)
//
// Background goroutines never panic across the API boundary. Their failures
// are reported by the next Send, by Receive returning no message, and by the
// Status, Err and Wait accessors.
package piper
