package ant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/ProvidenceIT/ride-sensors/internal/device"
)

// Link is the byte-level connection to a stick; *USBStick implements it
type Link interface {
	Send(msgs ...[]byte) error
	ReadLoop(ctx context.Context, handle func(Message)) error
	Close() error
}

// DeviceLostFunc is told when a paired device stops being reachable. err is
// nil when its channel closed or the stick was unplugged, and the read error
// when the stick failed.
type DeviceLostFunc func(deviceID string, err error)

// Radio brings up one dongle and its channels over a Link. Channel events
// from the stick are applied to the ChannelManager; data messages go to the
// handler given to Run. A channel that closes is searched again for the same
// device type.
type Radio struct {
	link     Link
	dongles  *DongleManager
	channels *ChannelManager
	dongleID string
	logger   *log.Logger

	mu      sync.Mutex
	closing map[uint8]device.DeviceType
	onLost  DeviceLostFunc
}

func NewRadio(logger *log.Logger, link Link, dongles *DongleManager, channels *ChannelManager, dongleID string) *Radio {
	if logger == nil {
		panic("Radio: logger cannot be nil")
	}
	return &Radio{
		link:     link,
		dongles:  dongles,
		channels: channels,
		dongleID: dongleID,
		logger:   logger,
		closing:  make(map[uint8]device.DeviceType),
	}
}

// OnDeviceLost sets the callback for paired devices that go away
func (r *Radio) OnDeviceLost(fn DeviceLostFunc) {
	r.mu.Lock()
	r.onLost = fn
	r.mu.Unlock()
}

func (r *Radio) deviceLost(deviceID string, err error) {
	r.mu.Lock()
	fn := r.onLost
	r.mu.Unlock()
	if fn != nil {
		fn(deviceID, err)
	}
}

func (r *Radio) Channels() *ChannelManager {
	return r.channels
}

// Initialize resets the stick, loads the ANT+ network key and marks the
// dongle Ready with the channel count of its ChannelManager
func (r *Radio) Initialize() error {
	if err := r.dongles.BeginInitialize(r.dongleID); err != nil {
		return err
	}
	if err := r.link.Send(DongleInitMessages()...); err != nil {
		r.markDongleError(err)
		return fmt.Errorf("initialize dongle %s: %w", r.dongleID, err)
	}
	if err := r.dongles.MarkReady(r.dongleID, r.channels.TotalChannels()); err != nil {
		return err
	}
	r.channels.AttachDongle(r.dongles, r.dongleID)
	return nil
}

// OpenSearch allocates a channel for cfg, configures it on the stick and
// starts searching. The channel is released again if the stick rejects the
// setup.
func (r *Radio) OpenSearch(cfg ChannelConfig) (uint8, error) {
	number, err := r.channels.AllocateChannel(cfg)
	if err != nil {
		return 0, err
	}
	ch := r.channels.Channels()[number]
	if err := r.link.Send(ChannelSetupMessages(ch)...); err != nil {
		if setErr := r.channels.SetChannelError(number, err.Error()); setErr != nil {
			r.logger.Printf("Radio: %v", setErr)
		}
		if closeErr := r.channels.CloseChannel(number); closeErr != nil {
			r.logger.Printf("Radio: %v", closeErr)
		}
		return 0, fmt.Errorf("configure channel %d: %w", number, err)
	}
	if err := r.channels.StartSearch(number); err != nil {
		return 0, err
	}
	return number, nil
}

// CloseChannel closes a channel on the stick and releases it. A new search
// for the channel's device type starts once the stick confirms the close.
func (r *Radio) CloseChannel(number uint8) error {
	if ch, ok := r.channel(number); ok && !ch.Free() {
		r.mu.Lock()
		r.closing[number] = ch.DeviceType
		r.mu.Unlock()
	}
	sendErr := r.link.Send(ChannelTeardownMessages(number)...)
	closeErr := r.channels.CloseChannel(number)
	return errors.Join(sendErr, closeErr)
}

// CloseDevice closes the channel paired with deviceID
func (r *Radio) CloseDevice(deviceID string) error {
	ch, ok := r.ChannelForDevice(deviceID)
	if !ok {
		return fmt.Errorf("close %s: %w", deviceID, ErrChannelNotFound)
	}
	return r.CloseChannel(ch.Number)
}

func (r *Radio) channel(number uint8) (Channel, bool) {
	all := r.channels.Channels()
	if int(number) >= len(all) {
		return Channel{}, false
	}
	return all[number], true
}

// SetTargetPower sends an FE-C target power page on a fitness equipment
// channel
func (r *Radio) SetTargetPower(number uint8, watts float64) error {
	ch, ok := r.channels.GetChannel(number)
	if ok && ch.DeviceType != device.DeviceTypeFitnessEquipment {
		return fmt.Errorf("target power on %s channel %d: %w", ch.DeviceType, number, ErrInvalidChannelState)
	}
	return r.link.Send(EncodeTargetPower(number, watts))
}

// Run reads from the stick until ctx is done or the link fails. An unplugged
// stick is Disconnected and its paired devices reported lost with a nil
// error; any other failure puts the dongle in Error and reports the devices
// lost with that error. Every channel is released either way.
func (r *Radio) Run(ctx context.Context, handle func(Message)) error {
	err := r.link.ReadLoop(ctx, func(msg Message) {
		if r.handleChannelEvent(msg) {
			return
		}
		handle(msg)
	})
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	lostErr := err
	if errors.Is(err, ErrStickUnplugged) {
		r.logger.Printf("Radio: Dongle %s unplugged", r.dongleID)
		if dErr := r.dongles.Disconnect(r.dongleID); dErr != nil {
			r.logger.Printf("Radio: %v", dErr)
		}
		lostErr = nil
	} else {
		r.logger.Printf("Radio: Dongle %s read failed: %v", r.dongleID, err)
		r.markDongleError(err)
	}
	for _, ch := range r.channels.Channels() {
		if ch.Free() {
			continue
		}
		if ch.State == ChannelOpen {
			r.deviceLost(ch.DeviceID(), lostErr)
		}
		if cErr := r.channels.CloseChannel(ch.Number); cErr != nil {
			r.logger.Printf("Radio: %v", cErr)
		}
	}
	return err
}

func (r *Radio) markDongleError(err error) {
	if mErr := r.dongles.MarkError(r.dongleID, err.Error()); mErr != nil {
		r.logger.Printf("Radio: %v", mErr)
	}
}

// handleChannelEvent applies RF events to the channel state. Returns true
// when msg was a channel event.
func (r *Radio) handleChannelEvent(msg Message) bool {
	resp, ok := ParseChannelResponse(msg)
	if !ok {
		return false
	}
	if resp.MessageID != 0x01 {
		// command responses carry the command ID; a non-zero code is a rejection
		if resp.Code != 0 {
			r.logger.Printf("Radio: Channel %d rejected message 0x%02X with code 0x%02X", resp.Channel, resp.MessageID, resp.Code)
		}
		return true
	}
	switch resp.Code {
	case RFEventRxSearchTimeout:
		r.logger.Printf("Radio: Channel %d search timed out", resp.Channel)
	case RFEventChannelClosed:
		r.channelClosed(resp.Channel)
	case RFEventRxFailGoToSearch:
		r.logger.Printf("Radio: Channel %d lost its device, searching again", resp.Channel)
	}
	return true
}

// channelClosed handles the stick's report that a channel closed. After a
// close asked for by CloseChannel only the new search is left to do. A close
// the stick made on its own, after a search timeout or a lost device, also
// unassigns and releases the channel and reports its paired device lost.
func (r *Radio) channelClosed(number uint8) {
	r.mu.Lock()
	deviceType, requested := r.closing[number]
	delete(r.closing, number)
	r.mu.Unlock()

	if !requested {
		ch, ok := r.channel(number)
		if !ok || ch.Free() {
			return
		}
		deviceType = ch.DeviceType
		if err := r.link.Send(UnassignChannelMessage(number)); err != nil {
			r.logger.Printf("Radio: Unassign channel %d: %v", number, err)
		}
		if err := r.channels.CloseChannel(number); err != nil {
			r.logger.Printf("Radio: %v", err)
		}
		if ch.State == ChannelOpen {
			r.logger.Printf("Radio: Channel %d lost %s", number, ch.DeviceID())
			r.deviceLost(ch.DeviceID(), nil)
		}
	}

	if _, err := r.OpenSearch(ChannelConfig{DeviceType: deviceType}); err != nil {
		r.logger.Printf("Radio: Searching for %s again: %v", deviceType, err)
	}
}

// ChannelForDevice returns the open channel paired with deviceID
func (r *Radio) ChannelForDevice(deviceID string) (Channel, bool) {
	for _, ch := range r.channels.Channels() {
		if ch.State == ChannelOpen && ch.DeviceID() == deviceID {
			return ch, true
		}
	}
	return Channel{}, false
}

// Radios routes device-level commands to whichever stick is paired with the
// device
type Radios []*Radio

// Open succeeds when a stick has a channel paired with the device: the
// channel is already a live link.
func (rs Radios) Open(_ context.Context, d device.Device) error {
	for _, r := range rs {
		if _, ok := r.ChannelForDevice(d.ID); ok {
			return nil
		}
	}
	return fmt.Errorf("open %s: %w", d.ID, ErrChannelNotFound)
}

// Close releases the device's channel so its stick searches again
func (rs Radios) Close(d device.Device) error {
	for _, r := range rs {
		if _, ok := r.ChannelForDevice(d.ID); ok {
			return r.CloseDevice(d.ID)
		}
	}
	return nil
}

func (rs Radios) SetTargetPower(deviceID string, watts float64) error {
	for _, r := range rs {
		if ch, ok := r.ChannelForDevice(deviceID); ok {
			return r.SetTargetPower(ch.Number, watts)
		}
	}
	return fmt.Errorf("target power for %s: %w", deviceID, ErrChannelNotFound)
}
