package main

// defaultTopology is the built-in demo machine: a GPU and an NVMe-style
// controller on the root bus, plus a bridge leading to a USB controller
// and a NIC on bus 1.
const defaultTopology = `
name: quasar-demo
functions:
  - bus: 0
    slot: 1
    vendor: 0x1af4
    device: 0x1050
    class: 0x03
    bars:
      - {index: 0, size: 0x1000000, base: 0xe0000000, prefetchable: true, is64: true}
      - {index: 2, size: 0x4000, base: 0xe2000000}
    capabilities:
      - {name: msi}
      - {name: pcie}
      - {name: power-management}
  - bus: 0
    slot: 2
    vendor: 0x1b36
    device: 0x0010
    class: 0x01
    subclass: 0x08
    progif: 0x02
    bars:
      - {index: 0, size: 0x4000, base: 0xe3000000}
    capabilities:
      - {name: msi-x}
      - {name: pcie}
  - bus: 0
    slot: 3
    vendor: 0x8086
    device: 0x2448
    class: 0x06
    subclass: 0x04
    bridge: true
    secondary_bus: 1
  - bus: 1
    slot: 0
    vendor: 0x1033
    device: 0x0194
    class: 0x0c
    subclass: 0x03
    progif: 0x30
    bars:
      - {index: 0, size: 0x2000, base: 0xe4000000}
    capabilities:
      - {name: msi}
  - bus: 1
    slot: 1
    vendor: 0x8086
    device: 0x100e
    class: 0x02
    bars:
      - {index: 0, size: 0x20000, base: 0xe5000000}
      - {index: 1, size: 0x40, base: 0xc000, io: true}
`
