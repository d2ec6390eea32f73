package monitor

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/ProvidenceIT/ride-sensors/internal/device"
)

type preferencesData struct {
	PreferredDeviceByDeviceType map[device.DeviceType]string `json:"preferred_device_by_device_type"`
}

// Preferences remembers the last device the user opened for each device
// type so it can be reopened when it is seen again
type Preferences struct {
	mu       sync.Mutex
	filePath string
	data     preferencesData
	logger   *log.Logger
}

// LoadPreferences reads filePath. A missing or unreadable file starts empty.
func LoadPreferences(logger *log.Logger, filePath string) *Preferences {
	if logger == nil {
		panic("Preferences: logger cannot be nil")
	}
	p := &Preferences{filePath: filePath, logger: logger}
	p.load()
	return p
}

// Preferred returns the device ID remembered for t, or ""
func (p *Preferences) Preferred(t device.DeviceType) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.PreferredDeviceByDeviceType[t]
}

// SetPreferred remembers id for t and saves the file
func (p *Preferences) SetPreferred(t device.DeviceType, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data.PreferredDeviceByDeviceType[t] == id {
		return
	}
	p.logger.Printf("Preferences: %s -> %q", t, id)
	p.data.PreferredDeviceByDeviceType[t] = id
	p.save()
}

func (p *Preferences) load() {
	p.data = preferencesData{
		PreferredDeviceByDeviceType: make(map[device.DeviceType]string),
	}
	raw, err := os.ReadFile(p.filePath)
	if err != nil {
		p.logger.Printf("Preferences: load %s (no existing file)", p.filePath)
		return
	}
	if err := json.Unmarshal(raw, &p.data); err != nil {
		p.logger.Printf("Preferences: load %s failed to parse: %v", p.filePath, err)
		return
	}
	if p.data.PreferredDeviceByDeviceType == nil {
		p.data.PreferredDeviceByDeviceType = make(map[device.DeviceType]string)
	}
	p.logger.Printf("Preferences: load %s -> %v", p.filePath, p.data.PreferredDeviceByDeviceType)
}

// save must be called with mu held
func (p *Preferences) save() {
	if err := os.MkdirAll(filepath.Dir(p.filePath), 0o755); err != nil {
		p.logger.Printf("Preferences: save mkdir failed: %v", err)
		return
	}
	raw, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		p.logger.Printf("Preferences: save marshal failed: %v", err)
		return
	}
	if err := os.WriteFile(p.filePath, raw, 0o644); err != nil {
		p.logger.Printf("Preferences: save %s failed: %v", p.filePath, err)
	}
}
