package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Wire framing for the TCP tunnel carrier, grounded on
// original_source/Engine/Transport/TCP/Message.h: a 6-byte big-endian
// header (body length, destination port, source port) followed by the
// body.
const (
	tcpHeaderLength  = 6
	tcpMaxBodyLength = 2048
)

// TCPTunnel proxies UDP traffic over one TCP connection for networks
// that block UDP outright. It does not itself speak RTP/RTCP: each pipe
// is a transparent local UDP listener whose traffic is shuttled to/from
// a "remote port" tag on the far end of the tunnel, the same role the
// original's tcp_client::create_pipe plays for its local RTP/RTCP UDP
// sockets. Callers point a regular UDPSocket at 127.0.0.1:<localPort>
// and the tunnel carries its datagrams transparently.
// Grounded on original_source/Engine/Transport/TCP/Client.cpp.
type TCPTunnel struct {
	log  *slog.Logger
	addr string

	mu      sync.Mutex
	conn    net.Conn
	writer  *bufio.Writer
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	pipesByRemotePort map[uint16]*tcpPipe
	pipesByLocalPort  map[uint16]*tcpPipe
}

// tcpPipe is one local UDP listener bridged to a remote port tag.
type tcpPipe struct {
	remotePort uint16
	localPort  uint16
	conn       *net.UDPConn
	lastPeer   *net.UDPAddr
	cancel     context.CancelFunc
}

// NewTCPTunnel constructs a tunnel that will dial addr ("host:port").
func NewTCPTunnel(log *slog.Logger, addr string) *TCPTunnel {
	return &TCPTunnel{
		log:               log,
		addr:              addr,
		pipesByRemotePort: make(map[uint16]*tcpPipe),
		pipesByLocalPort:  make(map[uint16]*tcpPipe),
	}
}

// Start dials the tunnel endpoint and begins the frame-read loop.
func (t *TCPTunnel) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil
	}

	conn, err := net.Dial("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("transport: tcp tunnel dial: %w", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	t.conn = conn
	t.writer = bufio.NewWriter(conn)
	t.running = true

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	t.wg.Add(1)
	go t.readLoop(ctx, conn)

	if t.log != nil {
		t.log.Info("tcp tunnel started", "addr", t.addr)
	}
	return nil
}

// Stop closes the tunnel connection, every pipe's local UDP listener,
// and waits for all loops to exit.
func (t *TCPTunnel) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.cancel()
	conn := t.conn
	pipes := make([]*tcpPipe, 0, len(t.pipesByRemotePort))
	for _, p := range t.pipesByRemotePort {
		pipes = append(pipes, p)
	}
	t.mu.Unlock()

	for _, p := range pipes {
		p.cancel()
		_ = p.conn.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
	t.wg.Wait()
}

// AddPipe creates (or returns the existing) local UDP listener bridged
// to remotePort on the far end of the tunnel, mirroring
// tcp_client::create_pipe's find-or-create behavior. The caller sends
// and receives ordinary UDP datagrams at 127.0.0.1:<localPort>.
func (t *TCPTunnel) AddPipe(remotePort uint16) (localPort uint16, err error) {
	t.mu.Lock()
	if p, ok := t.pipesByRemotePort[remotePort]; ok {
		t.mu.Unlock()
		return p.localPort, nil
	}
	t.mu.Unlock()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		return 0, fmt.Errorf("transport: tcp tunnel pipe listen: %w", err)
	}

	local := uint16(conn.LocalAddr().(*net.UDPAddr).Port)
	ctx, cancel := context.WithCancel(context.Background())
	p := &tcpPipe{remotePort: remotePort, localPort: local, conn: conn, cancel: cancel}

	t.mu.Lock()
	t.pipesByRemotePort[remotePort] = p
	t.pipesByLocalPort[local] = p
	t.mu.Unlock()

	t.wg.Add(1)
	go t.pipeReadLoop(ctx, p)

	if t.log != nil {
		t.log.Info("tcp tunnel pipe created", "local_port", local, "remote_port", remotePort)
	}
	return local, nil
}

// RemovePipe tears down a previously created pipe.
func (t *TCPTunnel) RemovePipe(remotePort uint16) {
	t.mu.Lock()
	p, ok := t.pipesByRemotePort[remotePort]
	if ok {
		delete(t.pipesByRemotePort, remotePort)
		delete(t.pipesByLocalPort, p.localPort)
	}
	t.mu.Unlock()

	if ok {
		p.cancel()
		_ = p.conn.Close()
	}
}

// pipeReadLoop relays datagrams arriving on a pipe's local UDP listener
// out over the TCP tunnel, tagged with the pipe's remote port as the
// frame's destination port and the sender's own port as the source port
// (so the far end's reply, which swaps the two, names the pipe in its
// source port and the local sender in its destination port).
func (t *TCPTunnel) pipeReadLoop(ctx context.Context, p *tcpPipe) {
	defer t.wg.Done()
	buf := make([]byte, tcpMaxBodyLength)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, from, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		p.lastPeer = from
		_ = t.writeFrame(buf[:n], p.remotePort, uint16(from.Port))
	}
}

func (t *TCPTunnel) readLoop(ctx context.Context, conn net.Conn) {
	defer t.wg.Done()
	r := bufio.NewReader(conn)
	header := make([]byte, tcpHeaderLength)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := readFull(r, header); err != nil {
			if ctx.Err() != nil {
				return
			}
			if t.log != nil {
				t.log.Warn("tcp tunnel header read error", "error", err)
			}
			return
		}

		bodyLen := binary.BigEndian.Uint16(header[0:2])
		destPort := binary.BigEndian.Uint16(header[2:4])
		srcPort := binary.BigEndian.Uint16(header[4:6])
		if bodyLen > tcpMaxBodyLength {
			bodyLen = tcpMaxBodyLength
		}

		body := make([]byte, bodyLen)
		if _, err := readFull(r, body); err != nil {
			if ctx.Err() != nil {
				return
			}
			if t.log != nil {
				t.log.Warn("tcp tunnel body read error", "error", err)
			}
			return
		}

		t.deliverToPipe(srcPort, destPort, body)
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// deliverToPipe forwards an incoming TCP frame to the local UDP pipe it
// names via srcPort (the remote port tag), sending the body to
// 127.0.0.1:destPort the way the original's handle_read_body does.
func (t *TCPTunnel) deliverToPipe(srcPort, destPort uint16, body []byte) {
	t.mu.Lock()
	p, ok := t.pipesByRemotePort[srcPort]
	t.mu.Unlock()
	if !ok {
		return
	}
	_, _ = p.conn.WriteToUDP(body, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: int(destPort)})
}

// writeFrame writes one length-prefixed frame to the tunnel connection.
func (t *TCPTunnel) writeFrame(body []byte, destPort, srcPort uint16) error {
	if len(body) > tcpMaxBodyLength {
		body = body[:tcpMaxBodyLength]
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writer == nil {
		return fmt.Errorf("transport: tcp tunnel not started")
	}

	var header [tcpHeaderLength]byte
	binary.BigEndian.PutUint16(header[0:2], uint16(len(body)))
	binary.BigEndian.PutUint16(header[2:4], destPort)
	binary.BigEndian.PutUint16(header[4:6], srcPort)

	if _, err := t.writer.Write(header[:]); err != nil {
		return err
	}
	if _, err := t.writer.Write(body); err != nil {
		return err
	}
	return t.writer.Flush()
}
