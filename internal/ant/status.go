package ant

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Summary describes every dongle with its channel usage and the channels
// in use on its radio, e.g. "dongle-1 Ready 2/8 (Heart Rate Open, Power
// Meter Searching)"
func Summary(dongles []Dongle, radios Radios) string {
	byDongle := make(map[string]*Radio, len(radios))
	for _, r := range radios {
		byDongle[r.dongleID] = r
	}
	if len(dongles) == 0 {
		return "no dongles"
	}

	parts := make([]string, 0, len(dongles))
	for _, d := range dongles {
		part := fmt.Sprintf("%s %s %d/%d", d.ID, d.State, d.UsedChannels, d.TotalChannels)
		if r, ok := byDongle[d.ID]; ok {
			var inUse []string
			for _, ch := range r.channels.Channels() {
				if !ch.Free() {
					inUse = append(inUse, fmt.Sprintf("%s %s", ch.DeviceType, ch.State))
				}
			}
			if len(inUse) > 0 {
				part += " (" + strings.Join(inUse, ", ") + ")"
			}
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}

// WatchStatus logs the Summary each time a dongle or channel event changes
// it, until ctx is done
func WatchStatus(ctx context.Context, logger *log.Logger, dongles *DongleManager, radios Radios) {
	updates := make(chan Event, 32)
	defer dongles.Listen(updates)()
	for _, r := range radios {
		defer r.channels.Listen(updates)()
	}

	last := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			if line := Summary(dongles.Dongles(), radios); line != last {
				logger.Printf("ANT: %s", line)
				last = line
			}
		}
	}
}
