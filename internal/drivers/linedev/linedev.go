// Package linedev drives devices that speak a newline-delimited text protocol
// over a stream socket, such as a serial-to-network bridge.
//
// The connection URL determines the transport:
//   - "tcp://host:port" → TCP socket
//   - "unix:///run/iobridge/panel.sock" → Unix socket
//
// Frames from the device, one per line:
//
//	<zone> <on|off>      zone edge, e.g. "BA3 on"
//	!attach <text>       device reported attach
//	!debug <text>        device debug line
//	!error <text>        device-side read fault
//
// Frames to the device (LED class only):
//
//	led <index> #rrggbb
//
// A malformed frame is a recoverable read fault. End of stream or a socket
// error is fatal.
package linedev

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/device"
	"github.com/nerrad567/gray-logic-iobridge/internal/diagnostic"
	"github.com/nerrad567/gray-logic-iobridge/internal/zone"
)

const (
	// defaultConnectTimeout bounds the dial when ctx has no deadline.
	defaultConnectTimeout = 10 * time.Second

	// defaultWriteTimeout bounds LED writes when ctx has no deadline.
	defaultWriteTimeout = 5 * time.Second

	// maxFrameSize is the longest accepted frame including the newline.
	maxFrameSize = 256
)

// errOversized marks a frame longer than maxFrameSize.
var errOversized = errors.New("frame exceeds maximum size")

// Driver opens line-protocol connections for one configured device.
type Driver struct {
	name  string
	class device.Class
}

// New creates a driver for a device reached over a stream socket.
func New(name string, class device.Class) *Driver {
	return &Driver{name: name, class: class}
}

// Name implements device.Driver.
func (d *Driver) Name() string { return d.name }

// Class implements device.Driver.
func (d *Driver) Class() device.Class { return d.class }

// DefaultProperties implements device.Driver.
func (d *Driver) DefaultProperties() device.Properties {
	return device.Properties{
		device.PropDebounceTimeMs: "5",
		device.PropPollingRateMs:  "0",
	}
}

// Open implements device.Driver. Address takes precedence over ComPort; either
// must be a tcp:// or unix:// URL.
func (d *Driver) Open(ctx context.Context, props device.Properties) (device.Worker, error) {
	addr := props.String(device.PropAddress, props.String(device.PropComPort, ""))
	if addr == "" {
		return nil, fmt.Errorf("%w: %s or %s is required", device.ErrInvalidProperty, device.PropAddress, device.PropComPort)
	}
	network, address, err := parseConnectionURL(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", device.ErrInvalidProperty, err)
	}
	poll, err := props.Millis(device.PropPollingRateMs, 0)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s://%s: %w", network, address, err)
	}

	return &Worker{
		class:   d.class,
		conn:    conn,
		r:       bufio.NewReaderSize(conn, maxFrameSize),
		poll:    poll,
		partial: make([]byte, 0, maxFrameSize),
	}, nil
}

// parseConnectionURL parses a device URL into network and address.
func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL %q: %w", connURL, err)
	}

	switch u.Scheme {
	case "unix":
		if u.Path == "" {
			return "", "", fmt.Errorf("unix URL %q has no path", connURL)
		}
		return "unix", u.Path, nil
	case "tcp":
		if u.Host == "" {
			return "", "", fmt.Errorf("tcp URL %q has no host", connURL)
		}
		return "tcp", u.Host, nil
	default:
		return "", "", fmt.Errorf("unsupported address %q (use tcp:// or unix://)", connURL)
	}
}

// Worker is an open line-protocol connection.
//
// Thread Safety:
//   - Read must be called from one goroutine.
//   - SetLED and Close are safe to call concurrently with Read.
type Worker struct {
	class device.Class
	conn  net.Conn
	r     *bufio.Reader
	poll  time.Duration

	partial  []byte
	overflow bool

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var (
	_ device.Worker    = (*Worker)(nil)
	_ device.LEDWriter = (*Worker)(nil)
)

// Read implements device.Worker. Blank lines are skipped.
func (w *Worker) Read(ctx context.Context) (device.Reading, error) {
	for {
		line, err := w.readLine(ctx)
		if err != nil {
			if errors.Is(err, errOversized) {
				return device.Reading{}, w.malformed(err)
			}
			return device.Reading{}, err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		return w.parseFrame(line)
	}
}

func (w *Worker) readLine(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if w.poll > 0 {
			if err := w.conn.SetReadDeadline(time.Now().Add(w.poll)); err != nil {
				return "", fmt.Errorf("set read deadline: %w", err)
			}
		}

		chunk, err := w.r.ReadSlice('\n')
		if !w.overflow {
			w.partial = append(w.partial, chunk...)
		}

		switch {
		case err == nil:
			if w.overflow {
				w.overflow = false
				w.partial = w.partial[:0]
				return "", errOversized
			}
			line := string(w.partial)
			w.partial = w.partial[:0]
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			w.overflow = true
			w.partial = w.partial[:0]
		case isTimeout(err):
			// Polling interval elapsed with no complete frame.
		default:
			return "", fmt.Errorf("read: %w", err)
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (w *Worker) malformed(err error) error {
	return &device.ReadError{Kind: w.class.ReadErrorKind(), Err: err}
}

// parseFrame decodes one trimmed line.
func (w *Worker) parseFrame(line string) (device.Reading, error) {
	line = strings.TrimSpace(line)

	if rest, ok := strings.CutPrefix(line, "!"); ok {
		cmd, text, _ := strings.Cut(rest, " ")
		text = strings.TrimSpace(text)
		switch strings.ToLower(cmd) {
		case "attach":
			return device.Reading{Notice: &device.Notice{Kind: diagnostic.Attach, Message: text}}, nil
		case "debug":
			return device.Reading{Notice: &device.Notice{Kind: diagnostic.Debug, Message: text}}, nil
		case "error":
			return device.Reading{}, w.malformed(errors.New(text))
		default:
			return device.Reading{}, w.malformed(fmt.Errorf("unknown command %q", cmd))
		}
	}

	ns := w.class.Namespace()
	fields := strings.Fields(line)
	if ns == nil || len(fields) != 2 {
		return device.Reading{}, w.malformed(fmt.Errorf("malformed frame %q", line))
	}
	id, err := ns.Parse(fields[0])
	if err != nil {
		return device.Reading{}, w.malformed(fmt.Errorf("frame %q: %w", line, err))
	}
	state, err := zone.ParseInputState(fields[1])
	if err != nil {
		return device.Reading{}, w.malformed(fmt.Errorf("frame %q: %w", line, err))
	}
	return device.Reading{Zone: id, State: state}, nil
}

// SetLED implements device.LEDWriter.
func (w *Worker) SetLED(ctx context.Context, index int, c device.Color) error {
	if index < 0 {
		return fmt.Errorf("%w: %d", device.ErrLEDIndex, index)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	frame := "led " + strconv.Itoa(index) + " " + c.Hex() + "\n"
	if _, err := w.conn.Write([]byte(frame)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Close implements device.Worker. Closing the socket unblocks a pending Read.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}
