package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

func init() {
	RegisterFactory("ble", FactoryFunc(newBLEDriver))
}

// bleDriver connects to a BLE peripheral exposing a single notify
// characteristic for telemetry and, optionally, a write characteristic for
// outbound commands. Grounded in shape on the vendored currantlabs/ble
// connection type's notify/write channel split (other_examples hci-conn
// snippet); go-ble/ble is the maintained successor under the same API
// family and is what this driver actually imports.
type bleDriver struct {
	base

	addr        string
	serviceUUID ble.UUID
	notifyUUID  ble.UUID
	writeUUID   ble.UUID
	connTimeout time.Duration

	mu     sync.Mutex
	client ble.Client
	writeC *ble.Characteristic
}

func newBLEDriver(ep *Endpoint) (Driver, error) {
	addr := ep.Path
	if addr == "" {
		return nil, fmt.Errorf("transport: ble endpoint %q has no device address", ep.Raw)
	}
	service, err := ble.Parse(ep.ParamString("service", ""))
	if err != nil {
		return nil, fmt.Errorf("transport: ble service uuid: %w", err)
	}
	notify, err := ble.Parse(ep.ParamString("notify", ep.ParamString("char", "")))
	if err != nil {
		return nil, fmt.Errorf("transport: ble notify characteristic uuid: %w", err)
	}
	var write ble.UUID
	if w := ep.ParamString("write", ""); w != "" {
		write, err = ble.Parse(w)
		if err != nil {
			return nil, fmt.Errorf("transport: ble write characteristic uuid: %w", err)
		}
	}

	return &bleDriver{
		base:        newBase("ble"),
		addr:        strings.ToUpper(addr),
		serviceUUID: service,
		notifyUUID:  notify,
		writeUUID:   write,
		connTimeout: ep.ParamDuration("timeout", 10*time.Second),
	}, nil
}

func (d *bleDriver) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return ErrAlreadyOpen
	}
	d.setState(Opening)

	dev, err := linux.NewDevice()
	if err != nil {
		d.setState(Failing)
		return fmt.Errorf("transport: ble host controller: %w", err)
	}
	ble.SetDefaultDevice(dev)

	dialCtx, cancel := context.WithTimeout(ctx, d.connTimeout)
	defer cancel()
	client, err := ble.Dial(dialCtx, ble.NewAddr(d.addr))
	if err != nil {
		d.setState(Failing)
		return fmt.Errorf("transport: ble dial %s: %w", d.addr, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		d.setState(Failing)
		_ = client.CancelConnection()
		return fmt.Errorf("transport: ble discover profile: %w", err)
	}

	notifyChar := profile.Find(ble.NewCharacteristic(d.notifyUUID))
	if notifyChar == nil {
		d.setState(Failing)
		_ = client.CancelConnection()
		return fmt.Errorf("transport: ble characteristic %s not found", d.notifyUUID)
	}
	if c, ok := notifyChar.(*ble.Characteristic); ok {
		if err := client.Subscribe(c, false, func(p []byte) { d.emitData(p) }); err != nil {
			d.setState(Failing)
			_ = client.CancelConnection()
			return fmt.Errorf("transport: ble subscribe: %w", err)
		}
	}

	if d.writeUUID != nil {
		if wc := profile.Find(ble.NewCharacteristic(d.writeUUID)); wc != nil {
			if c, ok := wc.(*ble.Characteristic); ok {
				d.writeC = c
			}
		}
	}

	d.client = client
	d.setState(Open)

	go func() {
		<-client.Disconnected()
		d.setState(Failing)
		d.emitError(fmt.Errorf("transport: ble peripheral %s disconnected", d.addr))
		d.closeEvents()
	}()
	return nil
}

func (d *bleDriver) Write(ctx context.Context, p []byte) (int, error) {
	d.mu.Lock()
	client, wc := d.client, d.writeC
	d.mu.Unlock()
	if client == nil {
		return 0, ErrNotOpen
	}
	if wc == nil {
		return 0, fmt.Errorf("transport: ble driver has no write characteristic configured")
	}
	if err := client.WriteCharacteristic(wc, p, true); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (d *bleDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil
	}
	err := d.client.CancelConnection()
	d.client = nil
	d.setState(Closed)
	d.closeEvents()
	return err
}
