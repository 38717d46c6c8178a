// Package config loads simulated machine topologies from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quasar-os/devcore/internal/sim"
)

// BAR is one resource window in a topology file.
type BAR struct {
	Index        int    `yaml:"index"`
	Size         uint64 `yaml:"size"`
	Base         uint64 `yaml:"base"`
	IO           bool   `yaml:"io"`
	Prefetchable bool   `yaml:"prefetchable"`
	Is64         bool   `yaml:"is64"`
}

// Capability is one capability-chain entry. Known names (msi, msi-x,
// pcie, power-management) may be used instead of a numeric ID.
type Capability struct {
	ID   uint8  `yaml:"id"`
	Name string `yaml:"name"`
	Body []byte `yaml:"body"`
}

// Function describes one endpoint of the topology.
type Function struct {
	Bus      uint8 `yaml:"bus"`
	Slot     uint8 `yaml:"slot"`
	Function uint8 `yaml:"function"`

	Vendor   uint16 `yaml:"vendor"`
	Device   uint16 `yaml:"device"`
	Class    uint8  `yaml:"class"`
	Subclass uint8  `yaml:"subclass"`
	ProgIF   uint8  `yaml:"progif"`
	Revision uint8  `yaml:"revision"`

	Multifunction bool  `yaml:"multifunction"`
	Bridge        bool  `yaml:"bridge"`
	SecondaryBus  uint8 `yaml:"secondary_bus"`

	BARs []BAR        `yaml:"bars"`
	Caps []Capability `yaml:"capabilities"`
}

// Topology is the top-level schema of a machine file.
type Topology struct {
	Name      string     `yaml:"name"`
	Functions []Function `yaml:"functions"`
}

var capNames = map[string]uint8{
	"power-management": 0x01,
	"msi":              0x05,
	"vendor":           0x09,
	"pcie":             0x10,
	"msi-x":            0x11,
}

// Load parses a topology file.
func Load(path string) (*Topology, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load topology: %w", err)
	}
	return Parse(raw)
}

// Parse parses topology YAML.
func Parse(raw []byte) (*Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}
	if len(t.Functions) == 0 {
		return nil, fmt.Errorf("parse topology: no functions declared")
	}
	for i := range t.Functions {
		fn := &t.Functions[i]
		for j := range fn.Caps {
			c := &fn.Caps[j]
			if c.Name == "" {
				continue
			}
			id, ok := capNames[c.Name]
			if !ok {
				return nil, fmt.Errorf("parse topology: unknown capability %q", c.Name)
			}
			if c.ID != 0 && c.ID != id {
				return nil, fmt.Errorf("parse topology: capability %q conflicts with id %#x", c.Name, c.ID)
			}
			c.ID = id
		}
	}
	return &t, nil
}

// Build populates a simulated machine from the topology.
func (t *Topology) Build() (*sim.Machine, error) {
	m := sim.NewMachine()
	for _, fn := range t.Functions {
		cfg := sim.EndpointConfig{
			Bus:           fn.Bus,
			Slot:          fn.Slot,
			Function:      fn.Function,
			VendorID:      fn.Vendor,
			DeviceID:      fn.Device,
			ClassCode:     fn.Class,
			Subclass:      fn.Subclass,
			ProgIF:        fn.ProgIF,
			Revision:      fn.Revision,
			Multifunction: fn.Multifunction,
			Bridge:        fn.Bridge,
			SecondaryBus:  fn.SecondaryBus,
		}
		for _, b := range fn.BARs {
			cfg.BARs = append(cfg.BARs, sim.BARConfig{
				Index:        b.Index,
				Size:         b.Size,
				Base:         b.Base,
				IO:           b.IO,
				Prefetchable: b.Prefetchable,
				Is64:         b.Is64,
			})
		}
		for _, c := range fn.Caps {
			body := c.Body
			if len(body) == 0 {
				body = defaultCapBody(c.ID)
			}
			cfg.Caps = append(cfg.Caps, sim.CapConfig{ID: c.ID, Body: body})
		}
		if _, err := m.AddEndpoint(cfg); err != nil {
			return nil, fmt.Errorf("build topology %q: %w", t.Name, err)
		}
	}
	return m, nil
}

// defaultCapBody sizes the payload for well-known capabilities so the
// chain stays structurally valid without spelling bodies out in YAML.
func defaultCapBody(id uint8) []byte {
	switch id {
	case 0x05: // MSI: control word + 64-bit address + data
		return make([]byte, 12)
	case 0x11: // MSI-X: control word + table/PBA offsets
		return make([]byte, 10)
	case 0x10: // PCIe: caps word + device cap/control/status
		return make([]byte, 14)
	case 0x01: // power management
		return make([]byte, 6)
	default:
		return make([]byte, 2)
	}
}
