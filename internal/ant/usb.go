package ant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/gousb"
)

// Dynastream vendor and the product IDs of the common ANT USB sticks
const (
	DynastreamVendorID uint16 = 0x0FCF
	ProductANTUSB2     uint16 = 0x1008
	ProductANTUSBm     uint16 = 0x1009
)

var DefaultProductIDs = []uint16{ProductANTUSB2, ProductANTUSBm}

const (
	usbConfig       = 1
	usbInterface    = 0
	usbEndpoint     = 1
	usbReadSize     = 64
	usbReadsInQueue = 4
)

var (
	ErrStickClosed    = errors.New("ANT stick closed")
	ErrStickUnplugged = errors.New("ANT stick unplugged")
)

// USBDeviceInfo identifies a stick on the bus without opening it
type USBDeviceInfo struct {
	VendorID  uint16
	ProductID uint16
	Bus       int
	Address   int
}

func (i USBDeviceInfo) String() string {
	return fmt.Sprintf("%04x:%04x@%d:%d", i.VendorID, i.ProductID, i.Bus, i.Address)
}

// USBEnumerator lists ANT sticks present on the USB bus
type USBEnumerator struct {
	ctx        *gousb.Context
	vendorID   uint16
	productIDs map[uint16]bool
	logger     *log.Logger
}

func NewUSBEnumerator(logger *log.Logger, vendorID uint16, productIDs []uint16) *USBEnumerator {
	if logger == nil {
		panic("USBEnumerator: logger cannot be nil")
	}
	ids := make(map[uint16]bool, len(productIDs))
	for _, id := range productIDs {
		ids[id] = true
	}
	return &USBEnumerator{
		ctx:        gousb.NewContext(),
		vendorID:   vendorID,
		productIDs: ids,
		logger:     logger,
	}
}

// Enumerate returns every matching stick. Devices are only inspected, never
// opened.
func (e *USBEnumerator) Enumerate() ([]USBDeviceInfo, error) {
	var found []USBDeviceInfo
	_, err := e.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if uint16(desc.Vendor) == e.vendorID && e.productIDs[uint16(desc.Product)] {
			found = append(found, USBDeviceInfo{
				VendorID:  uint16(desc.Vendor),
				ProductID: uint16(desc.Product),
				Bus:       desc.Bus,
				Address:   desc.Address,
			})
		}
		return false
	})
	if err != nil {
		return found, fmt.Errorf("enumerate USB: %w", err)
	}
	return found, nil
}

// Open claims the stick described by info
func (e *USBEnumerator) Open(info USBDeviceInfo) (*USBStick, error) {
	devs, err := e.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == info.Bus && desc.Address == info.Address &&
			uint16(desc.Vendor) == info.VendorID && uint16(desc.Product) == info.ProductID
	})
	if err != nil {
		for _, d := range devs {
			d.Close()
		}
		return nil, fmt.Errorf("open %s: %w", info, err)
	}
	if len(devs) == 0 {
		return nil, fmt.Errorf("open %s: %w", info, ErrDongleNotFound)
	}
	for _, extra := range devs[1:] {
		extra.Close()
	}
	return newUSBStick(devs[0], info, e.logger)
}

func (e *USBEnumerator) Close() error {
	return e.ctx.Close()
}

// USBStick is an opened ANT stick. Writes are serialized; one goroutine
// runs ReadLoop.
type USBStick struct {
	info   USBDeviceInfo
	dev    *gousb.Device
	cfg    *gousb.Config
	intf   *gousb.Interface
	stream *gousb.ReadStream
	out    *gousb.OutEndpoint
	framer *Framer
	logger *log.Logger

	writeMu sync.Mutex
	closed  bool
}

func newUSBStick(dev *gousb.Device, info USBDeviceInfo, logger *log.Logger) (*USBStick, error) {
	s := &USBStick{info: info, dev: dev, framer: NewFramer(DefaultFramerCapacity), logger: logger}
	if err := s.claim(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *USBStick) claim() error {
	var err error
	if err = s.dev.SetAutoDetach(true); err != nil {
		return fmt.Errorf("auto detach %s: %w", s.info, err)
	}
	if s.cfg, err = s.dev.Config(usbConfig); err != nil {
		return fmt.Errorf("config %s: %w", s.info, err)
	}
	if s.intf, err = s.cfg.Interface(usbInterface, 0); err != nil {
		return fmt.Errorf("interface %s: %w", s.info, err)
	}
	in, err := s.intf.InEndpoint(usbEndpoint)
	if err != nil {
		return fmt.Errorf("in endpoint %s: %w", s.info, err)
	}
	if s.out, err = s.intf.OutEndpoint(usbEndpoint); err != nil {
		return fmt.Errorf("out endpoint %s: %w", s.info, err)
	}
	if s.stream, err = in.NewStream(usbReadSize, usbReadsInQueue); err != nil {
		return fmt.Errorf("read stream %s: %w", s.info, err)
	}
	return nil
}

func (s *USBStick) Info() USBDeviceInfo {
	return s.info
}

// Send writes encoded messages in order
func (s *USBStick) Send(msgs ...[]byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrStickClosed
	}
	for _, m := range msgs {
		if _, err := s.out.Write(m); err != nil {
			return fmt.Errorf("write to %s: %w", s.info, err)
		}
	}
	return nil
}

// ReadLoop feeds bulk reads through the framer and hands every complete
// message to handle until ctx is done or the read fails
func (s *USBStick) ReadLoop(ctx context.Context, handle func(Message)) error {
	buf := make([]byte, usbReadSize)
	for {
		n, err := s.stream.ReadContext(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isNoDevice(err) {
				return fmt.Errorf("read from %s: %w", s.info, ErrStickUnplugged)
			}
			return fmt.Errorf("read from %s: %w", s.info, err)
		}
		if _, err := s.framer.Write(buf[:n]); err != nil {
			s.logger.Printf("USBStick: %v", err)
		}
		for {
			msg, ok := s.framer.Next()
			if !ok {
				break
			}
			handle(msg)
		}
	}
}

// isNoDevice reports whether libusb says the stick is gone
func isNoDevice(err error) bool {
	return errors.Is(err, gousb.ErrorNoDevice) || errors.Is(err, gousb.TransferNoDevice)
}

func (s *USBStick) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if s.stream != nil {
		errs = append(errs, s.stream.Close())
	}
	if s.intf != nil {
		s.intf.Close()
	}
	if s.cfg != nil {
		errs = append(errs, s.cfg.Close())
	}
	errs = append(errs, s.dev.Close())
	return errors.Join(errs...)
}
