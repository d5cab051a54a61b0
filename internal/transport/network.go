package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
)

func init() {
	RegisterFactory("tcp", FactoryFunc(newTCPClientDriver))
	RegisterFactory("tcp-listen", FactoryFunc(newTCPServerDriver))
	RegisterFactory("udp", FactoryFunc(newUDPDriver))
}

// tcpClientDriver dials an instrument exposing a raw TCP socket (a common
// shape for bench power supplies, network-attached DAQ units, SCPI
// instruments). Stdlib net: no pack dependency improves on raw sockets for
// this.
type tcpClientDriver struct {
	base
	addr     string
	readSize int

	mu     sync.Mutex
	conn   net.Conn
	stop   chan struct{}
	dialer net.Dialer
}

func newTCPClientDriver(ep *Endpoint) (Driver, error) {
	if ep.Host == "" {
		return nil, fmt.Errorf("transport: tcp endpoint %q has no host:port", ep.Raw)
	}
	return &tcpClientDriver{
		base:     newBase("tcp"),
		addr:     ep.Host,
		readSize: ep.ParamInt("readsize", 4096),
	}, nil
}

func (d *tcpClientDriver) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		return ErrAlreadyOpen
	}
	d.setState(Opening)
	conn, err := d.dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		d.setState(Failing)
		return fmt.Errorf("transport: dial tcp %s: %w", d.addr, err)
	}
	d.conn = conn
	d.stop = make(chan struct{})
	d.setState(Open)
	go readLoopConn(&d.base, conn, d.readSize, d.stop)
	return nil
}

func (d *tcpClientDriver) Write(ctx context.Context, p []byte) (int, error) {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return 0, ErrNotOpen
	}
	return conn.Write(p)
}

func (d *tcpClientDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	close(d.stop)
	err := d.conn.Close()
	d.conn = nil
	d.setState(Closed)
	d.closeEvents()
	return err
}

// tcpServerDriver accepts a single inbound connection (instruments that
// dial out to a configured host, rather than exposing a listening socket
// themselves).
type tcpServerDriver struct {
	base
	listenAddr string
	readSize   int

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
	stop     chan struct{}
}

func newTCPServerDriver(ep *Endpoint) (Driver, error) {
	if ep.Host == "" {
		return nil, fmt.Errorf("transport: tcp-listen endpoint %q has no host:port", ep.Raw)
	}
	return &tcpServerDriver{
		base:       newBase("tcp-listen"),
		listenAddr: ep.Host,
		readSize:   ep.ParamInt("readsize", 4096),
	}, nil
}

func (d *tcpServerDriver) Open(ctx context.Context) error {
	d.mu.Lock()
	if d.listener != nil {
		d.mu.Unlock()
		return ErrAlreadyOpen
	}
	d.setState(Opening)
	l, err := net.Listen("tcp", d.listenAddr)
	if err != nil {
		d.setState(Failing)
		d.mu.Unlock()
		return fmt.Errorf("transport: listen tcp %s: %w", d.listenAddr, err)
	}
	d.listener = l
	d.stop = make(chan struct{})
	d.mu.Unlock()

	go d.acceptLoop(l)
	return nil
}

func (d *tcpServerDriver) acceptLoop(l net.Listener) {
	conn, err := l.Accept()
	if err != nil {
		d.setState(Failing)
		d.emitError(fmt.Errorf("transport: accept tcp: %w", err))
		d.closeEvents()
		return
	}
	d.mu.Lock()
	d.conn = conn
	stop := d.stop
	d.mu.Unlock()
	d.setState(Open)
	readLoopConn(&d.base, conn, d.readSize, stop)
}

func (d *tcpServerDriver) Write(ctx context.Context, p []byte) (int, error) {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return 0, ErrNotOpen
	}
	return conn.Write(p)
}

func (d *tcpServerDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return nil
	}
	if d.stop != nil {
		close(d.stop)
	}
	_ = d.listener.Close()
	if d.conn != nil {
		_ = d.conn.Close()
	}
	d.listener = nil
	d.setState(Closed)
	d.closeEvents()
	return nil
}

// udpDriver handles both unicast UDP and, when ?multicast=true is set,
// joins the target address as a multicast group (common for broadcast
// telemetry from field sensors).
type udpDriver struct {
	base
	addr      string
	multicast bool
	iface     string
	readSize  int

	mu       sync.Mutex
	conn     *net.UDPConn
	peerAddr *net.UDPAddr
	stop     chan struct{}
}

func newUDPDriver(ep *Endpoint) (Driver, error) {
	if ep.Host == "" {
		return nil, fmt.Errorf("transport: udp endpoint %q has no host:port", ep.Raw)
	}
	return &udpDriver{
		base:      newBase("udp"),
		addr:      ep.Host,
		multicast: ep.ParamBool("multicast", false),
		iface:     ep.ParamString("iface", ""),
		readSize:  ep.ParamInt("readsize", 65536),
	}, nil
}

func (d *udpDriver) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		return ErrAlreadyOpen
	}
	d.setState(Opening)

	udpAddr, err := net.ResolveUDPAddr("udp", d.addr)
	if err != nil {
		d.setState(Failing)
		return fmt.Errorf("transport: resolve udp %s: %w", d.addr, err)
	}

	var conn *net.UDPConn
	if d.multicast && udpAddr.IP.IsMulticast() {
		var ifi *net.Interface
		if d.iface != "" {
			ifi, err = net.InterfaceByName(d.iface)
			if err != nil {
				d.setState(Failing)
				return fmt.Errorf("transport: interface %s: %w", d.iface, err)
			}
		}
		conn, err = net.ListenMulticastUDP("udp", ifi, udpAddr)
	} else {
		conn, err = net.ListenUDP("udp", &net.UDPAddr{Port: udpAddr.Port})
		if err == nil {
			// Remember the peer for Write's convenience dial-less send.
			d.peerAddr = udpAddr
		}
	}
	if err != nil {
		d.setState(Failing)
		return fmt.Errorf("transport: udp listen %s: %w", d.addr, err)
	}

	d.conn = conn
	d.stop = make(chan struct{})
	d.setState(Open)
	go d.readLoop(conn, d.stop)
	return nil
}

func (d *udpDriver) readLoop(conn *net.UDPConn, stop chan struct{}) {
	buf := make([]byte, d.readSize)
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, _, err := conn.ReadFromUDP(buf)
		if n > 0 {
			d.emitData(buf[:n])
		}
		if err != nil {
			d.setState(Failing)
			d.emitError(fmt.Errorf("transport: udp read: %w", err))
			d.closeEvents()
			return
		}
	}
}

func (d *udpDriver) Write(ctx context.Context, p []byte) (int, error) {
	d.mu.Lock()
	conn, peer := d.conn, d.peerAddr
	d.mu.Unlock()
	if conn == nil {
		return 0, ErrNotOpen
	}
	if peer != nil {
		return conn.WriteToUDP(p, peer)
	}
	return conn.Write(p)
}

func (d *udpDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	close(d.stop)
	err := d.conn.Close()
	d.conn = nil
	d.setState(Closed)
	d.closeEvents()
	return err
}

// readLoopConn is shared by the two TCP drivers: read until error, emitting
// each chunk as a RawChunk-bound event.
func readLoopConn(b *base, conn net.Conn, readSize int, stop chan struct{}) {
	buf := make([]byte, readSize)
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := conn.Read(buf)
		if n > 0 {
			b.emitData(buf[:n])
		}
		if err != nil {
			b.setState(Failing)
			b.emitError(fmt.Errorf("transport: read: %w", err))
			b.closeEvents()
			return
		}
	}
}
