// Serial segment forwarder
//
// Streams prepared segments to an external pulse generator over a
// serial link using a line-oriented protocol:
//
//	line t=<usec> s=<steps0>,<steps1>,...
//	dwell t=<usec>
//	null
//
// The remote end acks consumption with single '.' bytes; outstanding
// unacked segments make the sink report busy.
package stepper

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"cnc-motion/pkg/errors"
)

// SerialConfig holds serial forwarder configuration.
type SerialConfig struct {
	// Device path (e.g., /dev/ttyACM0)
	Device string

	// Baud rate (default: 250000)
	Baud int

	// ReadTimeout for ack polling (default: 50ms)
	ReadTimeout time.Duration
}

// SerialSink forwards segments over a serial port.
type SerialSink struct {
	mu      sync.Mutex
	port    *serial.Port
	claimFd int
	pending int
	reqCB   func()
	closed  bool
}

// OpenSerial opens the serial device and returns a sink.
func OpenSerial(cfg SerialConfig) (*SerialSink, error) {
	if cfg.Device == "" {
		return nil, errors.StepperError("open", "serial device is required")
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = 250000
	}
	timeout := cfg.ReadTimeout
	if timeout == 0 {
		timeout = 50 * time.Millisecond
	}
	claimFd, err := claimDevice(cfg.Device)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrStepper, "could not claim device").
			SetContext("device", cfg.Device)
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        baud,
		ReadTimeout: timeout,
	})
	if err != nil {
		releaseDevice(claimFd)
		return nil, errors.Wrap(err, errors.ErrStepper, "could not open device").
			SetContext("device", cfg.Device).
			SetContext("baud", baud)
	}
	s := &SerialSink{port: port, claimFd: claimFd}
	go s.readAcks()
	return s, nil
}

func (s *SerialSink) writeLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.StepperError("write", "sink closed")
	}
	if _, err := s.port.Write([]byte(line + "\n")); err != nil {
		return errors.Wrap(err, errors.ErrStepper, "segment write failed")
	}
	s.pending++
	return nil
}

// PrepLine implements Sink.
func (s *SerialSink) PrepLine(steps []float64, durationUs float64) error {
	var sb strings.Builder
	sb.WriteString("line t=")
	sb.WriteString(strconv.FormatFloat(durationUs, 'f', 1, 64))
	sb.WriteString(" s=")
	for i, st := range steps {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(st, 'f', 3, 64))
	}
	return s.writeLine(sb.String())
}

// PrepDwell implements Sink.
func (s *SerialSink) PrepDwell(durationUs float64) {
	_ = s.writeLine("dwell t=" + strconv.FormatFloat(durationUs, 'f', 1, 64))
}

// PrepNull implements Sink.
func (s *SerialSink) PrepNull() {
	_ = s.writeLine("null")
}

// RequestExec implements Sink.
func (s *SerialSink) RequestExec() {
	s.mu.Lock()
	cb := s.reqCB
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// IsBusy implements Sink.
func (s *SerialSink) IsBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending > 0
}

// OnExecRequest registers the pump wake callback.
func (s *SerialSink) OnExecRequest(cb func()) {
	s.mu.Lock()
	s.reqCB = cb
	s.mu.Unlock()
}

// readAcks drains ack bytes from the remote end. Each '.' byte releases
// one pending segment and triggers another exec request.
func (s *SerialSink) readAcks() {
	buf := make([]byte, 64)
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		port := s.port
		s.mu.Unlock()

		n, err := port.Read(buf)
		if err != nil || n == 0 {
			continue
		}
		released := 0
		for _, b := range buf[:n] {
			if b == '.' {
				released++
			}
		}
		if released == 0 {
			continue
		}
		s.mu.Lock()
		s.pending -= released
		if s.pending < 0 {
			s.pending = 0
		}
		cb := s.reqCB
		s.mu.Unlock()
		if cb != nil {
			cb()
		}
	}
}

// Close releases the device claim and closes the port.
func (s *SerialSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	releaseDevice(s.claimFd)
	return s.port.Close()
}
