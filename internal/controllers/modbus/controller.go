package modbusctrl

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	mbserver "github.com/tbrandon/mbserver"

	"github.com/loopctl-dev/loopctl/internal/loop"
	"github.com/loopctl-dev/loopctl/internal/ports"
)

// Register map:
//
//	coil 0            enabled
//	holding 0         setpoint        (x100)
//	holding 1         setpoint min    (x100)
//	holding 2         setpoint max    (x100)
//	holding 3         mode
//	holding 4..6      kp / ki / kd    (x1000)
//	input 0           process value   (x100)
//	input 1           output          (x100)
const (
	regSetpoint    = 0
	regSetpointMin = 1
	regSetpointMax = 2
	regMode        = 3
	regKp          = 4
	regKi          = 5
	regKd          = 6

	holdingRegCount = 7
	inputRegCount   = 2
)

// Config for the Modbus controller.
type Config struct {
	DeviceID string
	Addr     string
	UnitID   byte // Modbus unit ID, 1..247
}

type Controller struct {
	svc ports.LoopService
	cfg Config

	serv *mbserver.Server
}

func New(svc ports.LoopService, cfg Config) (*Controller, error) {
	if cfg.UnitID == 0 {
		return nil, errors.New("modbus: UnitID is required (non-zero)")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:1502"
	}
	return &Controller{svc: svc, cfg: cfg}, nil
}

func (c *Controller) holdingRegister(addr int) (uint16, bool) {
	snap := c.svc.Get()
	switch addr {
	case regSetpoint:
		return encodeValue(snap.Setpoint), true
	case regSetpointMin:
		return encodeValue(snap.SetpointMin), true
	case regSetpointMax:
		return encodeValue(snap.SetpointMax), true
	case regMode:
		return uint16(snap.Mode), true
	case regKp:
		return encodeGain(snap.Kp), true
	case regKi:
		return encodeGain(snap.Ki), true
	case regKd:
		return encodeGain(snap.Kd), true
	default:
		return 0, false
	}
}

func (c *Controller) writeHoldingRegister(addr int, val uint16) *mbserver.Exception {
	switch addr {
	case regSetpoint:
		if err := c.svc.SetSetpoint(decodeValue(val)); err != nil {
			return &mbserver.IllegalDataValue
		}
	case regSetpointMin:
		cur := c.svc.Get()
		if err := c.svc.SetMinMax(decodeValue(val), cur.SetpointMax); err != nil {
			return &mbserver.IllegalDataValue
		}
	case regSetpointMax:
		cur := c.svc.Get()
		if err := c.svc.SetMinMax(cur.SetpointMin, decodeValue(val)); err != nil {
			return &mbserver.IllegalDataValue
		}
	case regMode:
		if err := c.svc.SetMode(loop.Mode(val)); err != nil {
			return &mbserver.IllegalDataValue
		}
	case regKp:
		cur := c.svc.Get()
		c.svc.SetGains(decodeGain(val), cur.Ki, cur.Kd)
	case regKi:
		cur := c.svc.Get()
		c.svc.SetGains(cur.Kp, decodeGain(val), cur.Kd)
	case regKd:
		cur := c.svc.Get()
		c.svc.SetGains(cur.Kp, cur.Ki, decodeGain(val))
	default:
		return &mbserver.IllegalDataAddress
	}
	return &mbserver.Success
}

// Run starts the Modbus server and registers handlers that apply writes immediately and
// provide reads directly from the loop service. It blocks until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	serv := mbserver.NewServer()
	c.serv = serv

	// Handlers must be registered before the TCP listener starts.

	// Read Coils (function 1) - enabled state.
	serv.RegisterFunctionHandler(1, func(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		data := frame.GetData()
		if len(data) < 4 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		start := binary.BigEndian.Uint16(data[0:2])
		qty := binary.BigEndian.Uint16(data[2:4])
		if qty == 0 || qty > 2000 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		// We only expose coil 0 (enabled)
		if start != 0 || qty != 1 {
			return []byte{}, &mbserver.IllegalDataAddress
		}
		snap := c.svc.Get()
		coilByte := byte(0)
		if snap.Enabled {
			coilByte = 0x01
		}
		// response: byte count (1) + coil bytes
		return []byte{1, coilByte}, &mbserver.Success
	})

	// Read Holding Registers (function 3) - expose HR 0..6 from the service snapshot.
	serv.RegisterFunctionHandler(3, func(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		data := frame.GetData()
		if len(data) < 4 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		start := int(binary.BigEndian.Uint16(data[0:2]))
		qty := int(binary.BigEndian.Uint16(data[2:4]))
		if qty == 0 || qty > 125 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		if start < 0 || start+qty > holdingRegCount {
			return []byte{}, &mbserver.IllegalDataAddress
		}
		regs := make([]uint16, 0, qty)
		for i := 0; i < qty; i++ {
			r, ok := c.holdingRegister(start + i)
			if !ok {
				return []byte{}, &mbserver.IllegalDataAddress
			}
			regs = append(regs, r)
		}
		byteCount := len(regs) * 2
		resp := make([]byte, 1+byteCount)
		resp[0] = byte(byteCount)
		for i, r := range regs {
			binary.BigEndian.PutUint16(resp[1+i*2:1+i*2+2], r)
		}
		return resp, &mbserver.Success
	})

	// Read Input Registers (function 4) - expose IR 0 (process value) and IR 1 (output).
	serv.RegisterFunctionHandler(4, func(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		data := frame.GetData()
		if len(data) < 4 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		start := int(binary.BigEndian.Uint16(data[0:2]))
		qty := int(binary.BigEndian.Uint16(data[2:4]))
		if qty == 0 || qty > 125 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		if start < 0 || start+qty > inputRegCount {
			return []byte{}, &mbserver.IllegalDataAddress
		}
		snap := c.svc.Get()
		values := []uint16{encodeValue(snap.ProcessValue), encodeValue(snap.Output)}
		byteCount := qty * 2
		resp := make([]byte, 1+byteCount)
		resp[0] = byte(byteCount)
		for i := 0; i < qty; i++ {
			binary.BigEndian.PutUint16(resp[1+i*2:1+i*2+2], values[start+i])
		}
		return resp, &mbserver.Success
	})

	// Write Single Coil (function 5) - enabled
	serv.RegisterFunctionHandler(5, func(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		data := frame.GetData()
		if len(data) < 4 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		addr := binary.BigEndian.Uint16(data[0:2])
		value := binary.BigEndian.Uint16(data[2:4])

		if addr != 0 {
			return []byte{}, &mbserver.IllegalDataAddress
		}

		var enabled bool
		switch value {
		case 0x0000:
			enabled = false
		case 0xFF00:
			enabled = true
		default:
			return []byte{}, &mbserver.IllegalDataValue
		}

		c.svc.SetEnabled(enabled)

		// echo request (address + value)
		resp := make([]byte, 4)
		copy(resp, data[0:4])
		return resp, &mbserver.Success
	})

	// Write Single Register (function 6)
	serv.RegisterFunctionHandler(6, func(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		data := frame.GetData()
		if len(data) < 4 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		addr := binary.BigEndian.Uint16(data[0:2])
		value := binary.BigEndian.Uint16(data[2:4])

		if ex := c.writeHoldingRegister(int(addr), value); ex != &mbserver.Success {
			return []byte{}, ex
		}

		resp := make([]byte, 4)
		copy(resp, data[0:4])
		return resp, &mbserver.Success
	})

	// Write Multiple Registers (function 16)
	serv.RegisterFunctionHandler(16, func(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		d := frame.GetData()
		if len(d) < 5 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		start := binary.BigEndian.Uint16(d[0:2])
		quantity := binary.BigEndian.Uint16(d[2:4])
		byteCount := int(d[4])
		if byteCount != int(quantity)*2 || len(d) < 5+byteCount {
			return []byte{}, &mbserver.IllegalDataValue
		}
		for i := 0; i < int(quantity); i++ {
			addr := int(start) + i
			val := binary.BigEndian.Uint16(d[5+i*2 : 5+i*2+2])
			if ex := c.writeHoldingRegister(addr, val); ex != &mbserver.Success {
				return []byte{}, ex
			}
		}

		resp := make([]byte, 4)
		binary.BigEndian.PutUint16(resp[0:2], start)
		binary.BigEndian.PutUint16(resp[2:4], quantity)
		return resp, &mbserver.Success
	})

	if err := serv.ListenTCP(c.cfg.Addr); err != nil {
		return fmt.Errorf("mbserver listen tcp %s: %w", c.cfg.Addr, err)
	}

	<-ctx.Done()
	serv.Close()
	return ctx.Err()
}

// Process values and gains travel as scaled int16s. Gains get a finer scale
// because useful Ki/Kd values sit well below 1.
const (
	ValueScale int = 100
	GainScale  int = 1000
)

func encodeValue(v float64) uint16 {
	return encodeScaled(v, ValueScale)
}

func decodeValue(u uint16) float64 {
	return decodeScaled(u, ValueScale)
}

func encodeGain(v float64) uint16 {
	return encodeScaled(v, GainScale)
}

func decodeGain(u uint16) float64 {
	return decodeScaled(u, GainScale)
}

func encodeScaled(v float64, scale int) uint16 {
	r := min(max(int(math.Round(v*float64(scale))), math.MinInt16), math.MaxInt16)
	return uint16(int16(r))
}

func decodeScaled(u uint16, scale int) float64 {
	i := int16(u)
	return float64(i) / float64(scale)
}
