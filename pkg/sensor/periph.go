package sensor

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// DefaultReadyPin is the Raspberry Pi GPIO wired to the board's READY output
// (header pin 11).
const DefaultReadyPin = "GPIO17"

// PeriphBus is a Bus over a periph.io I2C bus and GPIO pin.
type PeriphBus struct {
	bus   i2c.BusCloser
	ready gpio.PinIO
}

// OpenPeriphBus initialises the host drivers, opens the named I2C bus (e.g.
// "1" for /dev/i2c-1) and arms falling-edge detection on the READY pin.
func OpenPeriphBus(busName, readyPin string) (*PeriphBus, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "host init")
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Wrapf(err, "open i2c bus %q", busName)
	}
	pin := gpioreg.ByName(readyPin)
	if pin == nil {
		_ = bus.Close()
		return nil, errors.Errorf("gpio pin %q not found", readyPin)
	}
	// READY is driven low when a new measurement set is available
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		_ = bus.Close()
		return nil, errors.Wrapf(err, "configure ready pin %s", readyPin)
	}
	return &PeriphBus{bus: bus, ready: pin}, nil
}

func (b *PeriphBus) ReadBlock(addr uint16, reg byte, n int) ([]byte, error) {
	dev := &i2c.Dev{Addr: addr, Bus: b.bus}
	buf := make([]byte, n)
	if err := dev.Tx([]byte{reg}, buf); err != nil {
		return nil, errors.Wrapf(err, "read register 0x%02X", reg)
	}
	return buf, nil
}

func (b *PeriphBus) WriteBlock(addr uint16, reg byte, data []byte) error {
	dev := &i2c.Dev{Addr: addr, Bus: b.bus}
	w := append([]byte{reg}, data...)
	if err := dev.Tx(w, nil); err != nil {
		return errors.Wrapf(err, "write register 0x%02X", reg)
	}
	return nil
}

func (b *PeriphBus) WriteCommand(addr uint16, cmd byte) error {
	dev := &i2c.Dev{Addr: addr, Bus: b.bus}
	if err := dev.Tx([]byte{cmd}, nil); err != nil {
		return errors.Wrapf(err, "write command 0x%02X", cmd)
	}
	return nil
}

// ReadyEvent does not block; a zero timeout only consumes a pending edge.
func (b *PeriphBus) ReadyEvent() bool {
	return b.ready.WaitForEdge(0)
}

func (b *PeriphBus) Close() error {
	if b.ready != nil {
		_ = b.ready.Halt()
	}
	if b.bus != nil {
		return b.bus.Close()
	}
	return nil
}
