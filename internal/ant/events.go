package ant

import (
	"fmt"
	"time"
)

// EventKind enumerates dongle and channel events
type EventKind int

const (
	EventDongleDetected EventKind = iota
	EventDongleInitializing
	EventDongleReady
	EventDongleError
	EventDongleDisconnected
	EventChannelAssigned
	EventChannelSearching
	EventChannelOpened
	EventChannelClosed
	EventChannelError
)

var eventKindNames = map[EventKind]string{
	EventDongleDetected:     "DongleDetected",
	EventDongleInitializing: "DongleInitializing",
	EventDongleReady:        "DongleReady",
	EventDongleError:        "DongleError",
	EventDongleDisconnected: "DongleDisconnected",
	EventChannelAssigned:    "ChannelAssigned",
	EventChannelSearching:   "ChannelSearching",
	EventChannelOpened:      "ChannelOpened",
	EventChannelClosed:      "ChannelClosed",
	EventChannelError:       "ChannelError",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event reports a dongle or channel transition. Channel is only meaningful
// for channel events.
type Event struct {
	Kind     EventKind
	DongleID string
	Channel  uint8
	Err      string
	At       time.Time
}
