package telemetry

import (
	"sort"
	"sync"

	"github.com/ProvidenceIT/ride-sensors/internal/dynamics"
)

// DynamicsTracker folds dynamics samples into one running average per
// device. Samples are folded in the order Fold is called.
type DynamicsTracker struct {
	mu      sync.Mutex
	devices map[string]*dynamics.DynamicsAverages
}

func NewDynamicsTracker() *DynamicsTracker {
	return &DynamicsTracker{devices: make(map[string]*dynamics.DynamicsAverages)}
}

// Attach subscribes the tracker to a router
func (t *DynamicsTracker) Attach(r *Router) func() {
	return r.OnDynamics(t.Fold)
}

func (t *DynamicsTracker) Fold(s DynamicsSample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	avg, ok := t.devices[s.DeviceID]
	if !ok {
		avg = &dynamics.DynamicsAverages{}
		t.devices[s.DeviceID] = avg
	}
	avg.Update(&s.Data)
}

// Averages returns a copy of the averages for deviceID
func (t *DynamicsTracker) Averages(deviceID string) (dynamics.DynamicsAverages, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	avg, ok := t.devices[deviceID]
	if !ok {
		return dynamics.DynamicsAverages{}, false
	}
	return *avg, true
}

// DeviceIDs lists every device with at least one sample
func (t *DynamicsTracker) DeviceIDs() []string {
	t.mu.Lock()
	ids := make([]string, 0, len(t.devices))
	for id := range t.devices {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Reset drops the averages of deviceID
func (t *DynamicsTracker) Reset(deviceID string) {
	t.mu.Lock()
	delete(t.devices, deviceID)
	t.mu.Unlock()
}
