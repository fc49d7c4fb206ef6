package engine

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrRemote is returned when a model service reports a failure
	ErrRemote = errors.New("model service failed")
	// ErrMalformedResponse is returned when a reply does not fit the request
	ErrMalformedResponse = errors.New("malformed model service response")
)

// DefaultTimeout bounds one request to a model service
const DefaultTimeout = 5 * time.Minute

// socket is a unix socket endpoint speaking msgpack, one request per connection
type socket struct {
	path    string
	timeout time.Duration
}

func newSocket(path string, timeout time.Duration) socket {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return socket{path: path, timeout: timeout}
}

// call sends req and decodes the reply into resp
func (s socket) call(ctx context.Context, req, resp interface{}) error {
	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "unix", s.path)
	if err != nil {
		return errors.Wrapf(err, "Can't connect to model service at '%s'", s.path)
	}
	defer conn.Close()

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)
	// Unblock pending reads and writes as soon as the caller gives up
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	reqData, err := msgpack.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "Can't encode request")
	}
	if _, err = conn.Write(reqData); err != nil {
		return s.wrap(ctx, err, "Can't send request")
	}
	respData, err := io.ReadAll(conn)
	if err != nil {
		return s.wrap(ctx, err, "Can't read response")
	}
	if err = msgpack.Unmarshal(respData, resp); err != nil {
		return errors.Wrapf(ErrMalformedResponse, "decode: %v", err)
	}
	return nil
}

func (s socket) wrap(ctx context.Context, err error, msg string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrap(ctxErr, msg)
	}
	return errors.Wrap(err, msg)
}

// remoteError converts an error message reported by a service
func remoteError(msg string) error {
	if msg == "" {
		return nil
	}
	return errors.Wrap(ErrRemote, msg)
}
