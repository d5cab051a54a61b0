package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/signalgrid/tscore/internal/backoff"
	"github.com/signalgrid/tscore/internal/checksum"
)

func init() {
	RegisterFactory("modbus", FactoryFunc(newModbusDriver))
	RegisterFactory("modbus+tcp", FactoryFunc(newModbusDriver))
}

// modbusDriver is a synthetic transport (spec.md §9 design note): Modbus is
// a request/response protocol, not a streaming one, so this driver
// generates its own traffic by polling a configured register range on a
// timer and synthesizing EventData chunks from the responses, rather than
// passively relaying bytes the way the other drivers do.
//
// No Modbus client library appears in any example manifest's go.mod (the
// two Modbus files retrieved for this spec are unfetchable reference
// snippets, not vouched dependencies), so ADU encode/decode is hand-rolled
// here, matching the shape of a serial-ASCII request/response transport:
// build request, send, wait, parse response.
type modbusDriver struct {
	base

	tcp       bool
	sub       Driver // underlying serial or tcp/udp driver carrying the bytes
	slaveID   byte
	function  byte // 0x03 read holding registers, 0x04 read input registers
	register  uint16
	count     uint16
	pollEvery time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	pending chan []byte // raw ADU responses handed back from sub's Events
}

func newModbusDriver(ep *Endpoint) (Driver, error) {
	tcp := ep.Scheme == "modbus+tcp" || ep.Host != ""

	var sub Driver
	var err error
	if tcp {
		subEp := *ep
		subEp.Scheme = "tcp"
		sub, err = (FactoryFunc(newTCPClientDriver)).NewDriver(&subEp)
	} else {
		subEp := *ep
		subEp.Scheme = "serial"
		sub, err = (FactoryFunc(newSerialDriver)).NewDriver(&subEp)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: modbus underlying transport: %w", err)
	}

	function := byte(0x03)
	if ep.ParamString("function", "holding") == "input" {
		function = 0x04
	}

	return &modbusDriver{
		base:      newBase("modbus"),
		tcp:       tcp,
		sub:       sub,
		slaveID:   byte(ep.ParamInt("slave", 1)),
		function:  function,
		register:  uint16(ep.ParamInt("register", 0)),
		count:     uint16(ep.ParamInt("count", 1)),
		pollEvery: ep.ParamDuration("poll", 200*time.Millisecond),
		pending:   make(chan []byte, 16),
	}, nil
}

func (d *modbusDriver) Open(ctx context.Context) error {
	d.mu.Lock()
	if d.stop != nil {
		d.mu.Unlock()
		return ErrAlreadyOpen
	}
	d.setState(Opening)
	d.stop = make(chan struct{})
	stop := d.stop
	d.mu.Unlock()

	if err := d.sub.Open(ctx); err != nil {
		d.setState(Failing)
		return fmt.Errorf("transport: modbus underlying open: %w", err)
	}

	go d.drainSub(stop)
	go d.pollLoop(ctx, stop)

	d.setState(Open)
	return nil
}

// drainSub funnels the underlying transport's raw byte events into
// d.pending so pollLoop can match each response to its request.
func (d *modbusDriver) drainSub(stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-d.sub.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case EventData:
				select {
				case d.pending <- ev.Data:
				default:
				}
			case EventError:
				d.emitError(ev.Err)
			case EventClosed:
				d.setState(Failing)
				d.closeEvents()
				return
			}
		}
	}
}

func (d *modbusDriver) pollLoop(ctx context.Context, stop chan struct{}) {
	poll := backoff.New(d.pollEvery, d.pollEvery)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		req := d.buildRequest()
		if _, err := d.sub.Write(ctx, req); err != nil {
			d.emitError(fmt.Errorf("transport: modbus write request: %w", err))
			poll.Sleep()
			continue
		}

		select {
		case <-stop:
			return
		case resp := <-d.pending:
			if chunk, ok := d.decodeResponse(resp); ok {
				d.emitData(chunk)
			} else {
				d.emitError(fmt.Errorf("transport: modbus malformed response"))
			}
		case <-time.After(d.pollEvery * 5):
			d.emitError(fmt.Errorf("transport: modbus response timeout"))
		}
		poll.Sleep()
	}
}

// buildRequest encodes a read-registers ADU. RTU frames append a
// CRC-16/MODBUS trailer; TCP frames prepend a 7-byte MBAP header instead.
func (d *modbusDriver) buildRequest() []byte {
	pdu := []byte{
		d.slaveID, d.function,
		byte(d.register >> 8), byte(d.register),
		byte(d.count >> 8), byte(d.count),
	}
	if d.tcp {
		header := make([]byte, 6)
		binary.BigEndian.PutUint16(header[0:2], 0) // transaction id, unused
		binary.BigEndian.PutUint16(header[2:4], 0) // protocol id
		binary.BigEndian.PutUint16(header[4:6], uint16(len(pdu)))
		return append(header, pdu...)
	}
	entry, _ := checksum.Lookup("crc-16/modbus")
	crc := entry.Compute(pdu)
	return append(pdu, crc...)
}

// decodeResponse validates and strips the ADU framing, returning the raw
// register payload bytes as the chunk handed onward to the ring buffer.
func (d *modbusDriver) decodeResponse(adu []byte) ([]byte, bool) {
	if d.tcp {
		if len(adu) < 9 {
			return nil, false
		}
		byteCount := int(adu[8])
		if len(adu) < 9+byteCount {
			return nil, false
		}
		return adu[9 : 9+byteCount], true
	}
	if len(adu) < 5 {
		return nil, false
	}
	byteCount := int(adu[2])
	if len(adu) < 3+byteCount+2 {
		return nil, false
	}
	payload := adu[3 : 3+byteCount]
	entry, _ := checksum.Lookup("crc-16/modbus")
	want := adu[3+byteCount : 3+byteCount+2]
	got := entry.Compute(adu[:3+byteCount])
	if string(got) != string(want) {
		return nil, false
	}
	return payload, true
}

func (d *modbusDriver) Write(ctx context.Context, p []byte) (int, error) {
	return 0, fmt.Errorf("transport: modbus driver does not accept application writes; it polls on a fixed schedule")
}

func (d *modbusDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop == nil {
		return nil
	}
	close(d.stop)
	d.stop = nil
	err := d.sub.Close()
	d.setState(Closed)
	d.closeEvents()
	return err
}
