// bluenetctl talks to stones through a local Bluetooth controller or a
// network radio bridge.
//
// Usage:
//
//	bluenetctl [--url ws://bridge:8765/ | --port /dev/ttyACM0 | --ble] <command>
//
// Commands:
//
//	scan       watch advertisements, optionally forwarding them to NATS
//	connect    connect and print mode, dialect and access level
//	switch     set the switch state of a stone
//	state      read switch state and clock
//	time       read or set the stone clock
//	version    print firmware and bootloader versions
//	reset      restart a stone, or send it to DFU or factory defaults
//	broadcast  send switch or time broadcasts without connecting
//	bridges    list radio bridges on the local network
//	keys       manage sphere keys
//	simulate   run simulated stones behind a WebSocket bridge
//
// Example:
//
//	bluenetctl keys import spheres.yaml
//	bluenetctl --url ws://bridge.local:8765/ switch AA:BB:CC:DD:EE:FF 100
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
