package connection_test

import "net"

type freeListener struct {
	ln   net.Listener
	port int
}

func (f *freeListener) Close() error { return f.ln.Close() }

func newFreeListener() (*freeListener, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	return &freeListener{ln: ln, port: ln.Addr().(*net.TCPAddr).Port}, nil
}
