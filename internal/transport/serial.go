package transport

import (
	"context"
	"fmt"
	"sync"

	"go.bug.st/serial"
)

func init() {
	RegisterFactory("serial", FactoryFunc(newSerialDriver))
}

// serialDriver is a direct-wire RS-232/RS-485/USB-serial instrument
// connection. Grounded on go.bug.st/serial's Port/Mode API (pack:
// librescoot/bluetooth-service manifest).
type serialDriver struct {
	base

	device   string
	mode     *serial.Mode
	readSize int

	mu   sync.Mutex
	port serial.Port
	stop chan struct{}
}

func newSerialDriver(ep *Endpoint) (Driver, error) {
	device := ep.Path
	if device == "" {
		return nil, fmt.Errorf("transport: serial endpoint %q has no device path", ep.Raw)
	}

	parity := serial.NoParity
	switch ep.ParamString("parity", "N") {
	case "E":
		parity = serial.EvenParity
	case "O":
		parity = serial.OddParity
	case "M":
		parity = serial.MarkParity
	case "S":
		parity = serial.SpaceParity
	}

	stopBits := serial.OneStopBit
	switch ep.ParamString("stopbits", "1") {
	case "1.5":
		stopBits = serial.OnePointFiveStopBits
	case "2":
		stopBits = serial.TwoStopBits
	}

	d := &serialDriver{
		base:     newBase("serial"),
		device:   device,
		readSize: ep.ParamInt("readsize", 4096),
		mode: &serial.Mode{
			BaudRate: ep.ParamInt("baud", 9600),
			DataBits: ep.ParamInt("databits", 8),
			Parity:   parity,
			StopBits: stopBits,
		},
	}
	return d, nil
}

func (d *serialDriver) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port != nil {
		return ErrAlreadyOpen
	}
	d.setState(Opening)

	port, err := serial.Open(d.device, d.mode)
	if err != nil {
		d.setState(Failing)
		return fmt.Errorf("transport: open serial %s: %w", d.device, err)
	}
	d.port = port
	d.stop = make(chan struct{})
	d.setState(Open)

	go d.readLoop(port, d.stop)
	return nil
}

func (d *serialDriver) readLoop(port serial.Port, stop chan struct{}) {
	buf := make([]byte, d.readSize)
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := port.Read(buf)
		if n > 0 {
			d.emitData(buf[:n])
		}
		if err != nil {
			d.setState(Failing)
			d.emitError(fmt.Errorf("transport: serial read: %w", err))
			d.closeEvents()
			return
		}
	}
}

func (d *serialDriver) Write(ctx context.Context, p []byte) (int, error) {
	d.mu.Lock()
	port := d.port
	d.mu.Unlock()
	if port == nil {
		return 0, ErrNotOpen
	}
	return port.Write(p)
}

func (d *serialDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return nil
	}
	close(d.stop)
	err := d.port.Close()
	d.port = nil
	d.setState(Closed)
	d.closeEvents()
	return err
}
