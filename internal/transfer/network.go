package transfer

import (
	"context"
	"net"
	"time"
)

// DialChecker reports the network as online when a TCP connection to Addr can
// be opened within Timeout.
type DialChecker struct {
	Addr    string
	Timeout time.Duration
}

// NewDialChecker creates a DialChecker for addr ("host:port").
func NewDialChecker(addr string, timeout time.Duration) *DialChecker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &DialChecker{Addr: addr, Timeout: timeout}
}

func (c *DialChecker) Online(ctx context.Context) bool {
	d := net.Dialer{Timeout: c.Timeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
