// devscan enumerates a simulated PCI machine through the device core and
// reports what it finds. Topologies come from a YAML file or a built-in
// default machine.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/quasar-os/devcore/internal/config"
	"github.com/quasar-os/devcore/internal/dev"
	"github.com/quasar-os/devcore/internal/drivers/blockdev"
	"github.com/quasar-os/devcore/internal/drivers/gpu"
	"github.com/quasar-os/devcore/internal/pci"
	"github.com/quasar-os/devcore/internal/sim"
)

const dmaPoolSize = 16 << 20

var (
	flagTopology string
	flagVerbose  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "devscan",
		Short:        "Enumerate and exercise a simulated PCI machine",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if flagVerbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flagTopology, "topology", "t", "",
		"machine topology YAML (default: built-in machine)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"enable debug logging")

	rootCmd.AddCommand(
		busCommand(),
		treeCommand(),
		reportCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// session wires one simulated machine to a fresh device core instance.
type session struct {
	machine *sim.Machine
	pool    *dev.DMAPool
	mgr     *dev.Manager
	scanner *pci.Scanner
}

func newSession() (*session, error) {
	machine, err := buildMachine()
	if err != nil {
		return nil, err
	}

	pool, err := dev.NewDMAPool(dmaPoolSize)
	if err != nil {
		return nil, err
	}

	mgr := dev.NewManager()
	mgr.SetDMAPool(pool)
	if err := mgr.RegisterDriver(gpu.New()); err != nil {
		return nil, err
	}
	if err := mgr.RegisterDriver(blockdev.New()); err != nil {
		return nil, err
	}

	cs := pci.NewConfigSpace(machine)
	return &session{
		machine: machine,
		pool:    pool,
		mgr:     mgr,
		scanner: pci.NewScanner(cs, mgr),
	}, nil
}

func buildMachine() (*sim.Machine, error) {
	var (
		topo *config.Topology
		err  error
	)
	if flagTopology != "" {
		topo, err = config.Load(flagTopology)
	} else {
		topo, err = config.Parse([]byte(defaultTopology))
	}
	if err != nil {
		return nil, err
	}
	return topo.Build()
}

func (s *session) close() {
	s.scanner.Close()
	s.mgr.Close()
	if err := s.pool.Close(); err != nil {
		slog.Warn("dma pool close failed", "err", err)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func classDescription(class, subclass uint8) string {
	switch class {
	case pci.ClassStorage:
		return "storage"
	case pci.ClassNetwork:
		return "network"
	case pci.ClassDisplay:
		return "display"
	case pci.ClassMultimedia:
		return "multimedia"
	case pci.ClassBridge:
		if subclass == pci.SubclassPCIBridge {
			return "pci bridge"
		}
		return "bridge"
	case pci.ClassInput:
		return "input"
	case pci.ClassSerialBus:
		if subclass == pci.SubclassUSB {
			return "usb controller"
		}
		return "serial bus"
	default:
		return fmt.Sprintf("class %02x:%02x", class, subclass)
	}
}
