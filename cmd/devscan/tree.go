package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/quasar-os/devcore/internal/pci"
)

func treeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Show the bus hierarchy with bound drivers",
		Args:  cobra.NoArgs,
		RunE:  runTree,
	}
}

func runTree(_ *cobra.Command, _ []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.close()

	s.scanner.ScanAll()

	byBus := make(map[uint8][]*pci.Device)
	for _, pd := range s.scanner.Devices() {
		byBus[pd.Addr.Bus] = append(byBus[pd.Addr.Bus], pd)
	}

	printBus(byBus, 0, 0)
	return nil
}

func printBus(byBus map[uint8][]*pci.Device, bus uint8, depth int) {
	indent := strings.Repeat("  ", depth)
	driverStyle := color.New(color.FgGreen).SprintFunc()
	unboundStyle := color.New(color.FgYellow).SprintFunc()

	for _, pd := range byBus[bus] {
		bound := unboundStyle("unbound")
		if drv := pd.Core.Driver(); drv != nil {
			bound = driverStyle(drv.Name())
		}
		fmt.Printf("%s%s %04x:%04x %-14s %s\n",
			indent, pd.Addr, pd.VendorID, pd.DeviceID,
			classDescription(pd.ClassCode, pd.Subclass), bound)

		if pd.IsBridge() {
			if secondary, err := pd.SecondaryBus(); err == nil {
				printBus(byBus, secondary, depth+1)
			}
		}
	}
}
