// Package transport holds helpers shared by the TCP and WebSocket transports.
package transport

import (
	"context"
	"errors"
	"os"
	"time"
)

// aLongTimeAgo is a non-zero time in the past, used to wake blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// Bind applies ctx's deadline with set and arranges for cancellation of ctx
// to expire the deadline immediately. The returned function undoes the
// cancellation hook and must be called once the I/O is done.
func Bind(ctx context.Context, set func(time.Time) error) (stop func() bool) {
	d, _ := ctx.Deadline()
	set(d)
	return context.AfterFunc(ctx, func() { set(aLongTimeAgo) })
}

// Err prefers the context error over the I/O error it caused. A socket
// deadline taken from ctx can fire before ctx's own timer does; that is
// still reported as context.DeadlineExceeded.
func Err(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if d, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	return err
}
