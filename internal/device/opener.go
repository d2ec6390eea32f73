package device

import "context"

// TransportOpeners dispatches Open and Close to the Opener registered for
// the device's transport. Transports without an entry open without a
// handshake.
type TransportOpeners map[Transport]Opener

func (t TransportOpeners) Open(ctx context.Context, d Device) error {
	if o, ok := t[d.Transport]; ok && o != nil {
		return o.Open(ctx, d)
	}
	return nil
}

func (t TransportOpeners) Close(d Device) error {
	if o, ok := t[d.Transport]; ok && o != nil {
		return o.Close(d)
	}
	return nil
}
