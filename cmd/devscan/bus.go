package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/quasar-os/devcore/internal/pci"
)

func busCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bus",
		Short: "Scan every bus and list discovered functions",
		Args:  cobra.NoArgs,
		RunE:  runBus,
	}
}

func runBus(_ *cobra.Command, _ []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.close()

	var bar *progressbar.ProgressBar
	if isTerminal(os.Stderr) {
		bar = progressbar.Default(256, "scanning buses")
		s.scanner.BusHook = func(uint8) {
			bar.Add(1)
		}
	}

	found := s.scanner.ScanAll()
	if bar != nil {
		bar.Finish()
	}

	addrStyle := color.New(color.FgCyan).SprintFunc()
	idStyle := color.New(color.Bold).SprintfFunc()
	for _, pd := range s.scanner.Devices() {
		fmt.Printf("%s  %s  %s\n",
			addrStyle(pd.Addr.String()),
			idStyle("%04x:%04x", pd.VendorID, pd.DeviceID),
			classDescription(pd.ClassCode, pd.Subclass))

		for _, b := range pd.BARs {
			if b == nil {
				continue
			}
			fmt.Printf("    %s\n", b)
		}
		for _, id := range pd.Capabilities {
			fmt.Printf("    cap %02x %s\n", id, pci.CapabilityName(id))
		}
	}

	fmt.Printf("%d functions found\n", found)
	return nil
}
