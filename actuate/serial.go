package actuate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"screenpilot/config"
)

// wireCommand is one line on the serial link.
type wireCommand struct {
	Cmd string `json:"cmd"`
	X   int    `json:"x,omitempty"`
	Y   int    `json:"y,omitempty"`
}

// wireReply is the device's response line.
type wireReply struct {
	Status string `json:"status"`
}

// SerialActuator drives a microcontroller over a serial link speaking
// newline-delimited JSON. A single worker goroutine owns the port;
// MoveTo enqueues the latest position and never blocks on the wire.
type SerialActuator struct {
	logger *slog.Logger
	cfg    config.ArduinoConfig

	port io.ReadWriteCloser

	pending chan image.Point
	done    chan struct{}
	wg      sync.WaitGroup

	mu sync.Mutex
	// lastErr holds a write failure until MoveTo reports it once; a
	// successful write also clears it, so transient glitches do not
	// wedge the device.
	lastErr error
	closed  bool
}

// OpenSerial connects to the configured port, performs the ping/pong
// handshake, and starts the command worker. Connection attempts are
// retried up to arduino.max_retries with a growing delay.
func OpenSerial(logger *slog.Logger, cfg config.ArduinoConfig) (*SerialActuator, error) {
	logger = logger.With("component", "actuate", "device", "serial")

	var port io.ReadWriteCloser
	var err error
	for attempt := 0; ; attempt++ {
		port, err = openAndHandshake(cfg)
		if err == nil {
			break
		}
		if attempt >= cfg.MaxRetries {
			return nil, fmt.Errorf("serial connect %q: %w", cfg.Port, err)
		}
		delay := cfg.RetryDelayDuration() << attempt
		logger.Warn("serial connect failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)
		time.Sleep(delay)
	}

	a := &SerialActuator{
		logger:  logger,
		cfg:     cfg,
		port:    port,
		pending: make(chan image.Point, 1),
		done:    make(chan struct{}),
	}
	a.wg.Add(1)
	go a.processCommands()

	logger.Info("serial device connected", "port", cfg.Port, "baud", cfg.BaudRate)
	return a, nil
}

func openAndHandshake(cfg config.ArduinoConfig) (io.ReadWriteCloser, error) {
	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(cfg.ConnectTimeoutDuration()); err != nil {
		port.Close()
		return nil, err
	}
	if err := handshake(port, cfg.ConnectTimeoutDuration()); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// handshake sends a ping and requires a pong line before the deadline.
func handshake(rw io.ReadWriter, timeout time.Duration) error {
	if err := writeLine(rw, wireCommand{Cmd: "ping"}); err != nil {
		return fmt.Errorf("handshake write: %w", err)
	}

	type result struct {
		reply wireReply
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(rw).ReadString('\n')
		if err != nil {
			ch <- result{err: err}
			return
		}
		var reply wireReply
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &reply); err != nil {
			ch <- result{err: fmt.Errorf("handshake parse %q: %w", strings.TrimSpace(line), err)}
			return
		}
		ch <- result{reply: reply}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if res.reply.Status != "pong" {
			return fmt.Errorf("handshake: unexpected status %q", res.reply.Status)
		}
		return nil
	case <-time.After(timeout):
		return ErrTimeout
	}
}

func writeLine(w io.Writer, cmd wireCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// MoveTo queues an absolute move. A queued position not yet written is
// replaced, so the device always receives the freshest target.
func (a *SerialActuator) MoveTo(ctx context.Context, p image.Point) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrUnavailable
	}
	err := a.lastErr
	a.lastErr = nil
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	for {
		select {
		case a.pending <- p:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Drop the stale queued position and retry.
			select {
			case <-a.pending:
			default:
			}
		}
	}
}

// processCommands is the single writer on the serial port.
func (a *SerialActuator) processCommands() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case p := <-a.pending:
			if err := writeLine(a.port, wireCommand{Cmd: "move_abs", X: p.X, Y: p.Y}); err != nil {
				a.logger.Error("serial write failed", "error", err)
				a.mu.Lock()
				a.lastErr = err
				a.mu.Unlock()
				continue
			}
			a.mu.Lock()
			a.lastErr = nil
			a.mu.Unlock()
		}
	}
}

// Name identifies the device.
func (a *SerialActuator) Name() string { return "serial" }

// Close stops the worker and releases the port.
func (a *SerialActuator) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.done)
	a.wg.Wait()
	return a.port.Close()
}
