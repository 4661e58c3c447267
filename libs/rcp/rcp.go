// Package rcp implements a reliable, connection-oriented transport over any
// unreliable datagram substrate. It provides ordered, acknowledged,
// congestion-controlled delivery of bounded payloads, with an explicit
// SYN/SYN+ACK/ACK handshake and FIN teardown, on top of anything that speaks
// net.PacketConn.
package rcp

import (
	"log"
	"net"
	"os"

	"github.com/pkg/errors"
)

var doLogging = false

func init() {
	doLogging = os.Getenv("RCPLOG") != ""
}

// Listen opens a fresh datagram endpoint on the given port and binds a
// listener to it. Closing the listener closes the endpoint too.
func Listen(port uint16, cfg *Config) (*Listener, error) {
	sock, err := OpenSocket(port, cfg)
	if err != nil {
		return nil, err
	}
	lsnr, err := sock.Bind(port)
	if err != nil {
		sock.Close()
		return nil, err
	}
	lsnr.ownsSocket = true
	return lsnr, nil
}

// Dial opens a fresh datagram endpoint, connects it to raddr and runs the
// handshake. Closing the connection closes the endpoint too.
func Dial(raddr string, cfg *Config) (*Conn, error) {
	addr, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return nil, errors.Wrap(err, "cannot resolve peer")
	}
	sock, err := OpenSocket(0, cfg)
	if err != nil {
		return nil, err
	}
	conn, err := sock.Connect(addr)
	if err != nil {
		sock.Close()
		return nil, err
	}
	conn.ownsSocket = true
	if err := conn.Handshake(); err != nil {
		sock.Close()
		return nil, err
	}
	if doLogging {
		log.Println("RCP: dialed", raddr)
	}
	return conn, nil
}
