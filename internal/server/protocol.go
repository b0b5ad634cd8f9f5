package server

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"time"
)

type protocolType int

const (
	protocolTCP protocolType = iota
	protocolHTTP
)

// String returns the string representation of protocolType
func (p protocolType) String() string {
	if p == protocolHTTP {
		return "websocket"
	}
	return "tcp"
}

var httpMethods = [][]byte{
	[]byte("GET "),
	[]byte("POST"),
	[]byte("PUT "),
	[]byte("HEAD"),
	[]byte("OPTI"), // OPTIONS
	[]byte("PATC"), // PATCH
	[]byte("DELE"), // DELETE
	[]byte("CONN"), // CONNECT
}

// detectProtocol peeks at the first bytes to determine protocol type.
// Raw TCP clients say nothing until the server sends NICK, so a connection
// that stays silent for timeout is served as TCP. The returned reader holds
// the peeked bytes and must be used for all further reads.
func detectProtocol(conn net.Conn, timeout time.Duration) (protocolType, *bufio.Reader, error) {
	reader := bufio.NewReader(conn)

	conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	// HTTP requests start with: "GET ", "POST", "PUT ", "HEAD", etc.
	// Framed TCP traffic starts with a tag byte below 0x20.
	peek, err := reader.Peek(4)
	if err != nil {
		var ne net.Error
		if !errors.As(err, &ne) || !ne.Timeout() {
			return protocolTCP, reader, err
		}
		if len(peek) > 0 && isMethodPrefix(peek) {
			return protocolHTTP, reader, nil
		}
		return protocolTCP, reader, nil
	}

	for _, m := range httpMethods {
		if bytes.Equal(peek, m) {
			return protocolHTTP, reader, nil
		}
	}
	return protocolTCP, reader, nil
}

func isMethodPrefix(p []byte) bool {
	for _, m := range httpMethods {
		if bytes.HasPrefix(m, p) {
			return true
		}
	}
	return false
}
