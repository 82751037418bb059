// Package power reports the kiosk's UPS battery so the screen can warn
// before a wall-power outage drains it.
package power

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	appLog "photocal/internal/log"
)

// DefaultAddr is the PiSugar 3 battery controller.
const DefaultAddr = 0x57

// PiSugar 3 registers.
const (
	regPower     = 0x02 // bit 7: external power present
	regVoltageHi = 0x22
	regVoltageLo = 0x23
	regPercent   = 0x2A
)

type Status struct {
	Available bool `json:"available"`
	Percent   int  `json:"percent"`
	VoltageMv int  `json:"voltageMv"`
	Charging  bool `json:"charging"`
}

type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// Unavailable is used off the Pi; it always reports no battery.
type Unavailable struct{}

func (Unavailable) Read(context.Context) (Status, error) { return Status{}, nil }

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

type I2CReader struct {
	open func() (i2c.BusCloser, error)
	addr uint16
}

// NewI2CReader reads the controller at addr on busName ("" picks the first
// bus, /dev/i2c-1 on a Pi). The bus is opened per read.
func NewI2CReader(busName string, addr uint16) *I2CReader {
	if addr == 0 {
		addr = DefaultAddr
	}
	return &I2CReader{
		addr: addr,
		open: func() (i2c.BusCloser, error) {
			if err := hostInit(); err != nil {
				return nil, fmt.Errorf("power: host init: %w", err)
			}
			return i2creg.Open(busName)
		},
	}
}

func (r *I2CReader) Read(_ context.Context) (Status, error) {
	bus, err := r.open()
	if err != nil {
		return Status{}, err
	}
	defer bus.Close()

	dev := &i2c.Dev{Bus: bus, Addr: r.addr}
	reg := func(a byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{a}, buf); err != nil {
			return 0, fmt.Errorf("power: read reg %#x: %w", a, err)
		}
		return buf[0], nil
	}

	hi, err := reg(regVoltageHi)
	if err != nil {
		return Status{}, err
	}
	lo, err := reg(regVoltageLo)
	if err != nil {
		return Status{}, err
	}
	pct, err := reg(regPercent)
	if err != nil {
		return Status{}, err
	}
	pw, err := reg(regPower)
	if err != nil {
		return Status{}, err
	}

	return Status{
		Available: true,
		Percent:   min(int(pct), 100),
		VoltageMv: int(uint16(hi)<<8 | uint16(lo)),
		Charging:  pw&0x80 != 0,
	}, nil
}

// Detect probes the controller once and falls back to Unavailable when
// there is no I2C bus or nothing answers.
func Detect(ctx context.Context, busName string, addr uint16) Reader {
	if runtime.GOOS != "linux" {
		return Unavailable{}
	}
	r := NewI2CReader(busName, addr)
	if _, err := r.Read(ctx); err != nil {
		appLog.Warn("power: battery controller not found; reporting unavailable", "err", err.Error())
		return Unavailable{}
	}
	return r
}
