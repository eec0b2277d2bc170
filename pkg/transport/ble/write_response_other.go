//go:build !darwin && !windows

package ble

import "tinygo.org/x/bluetooth"

// The BlueZ and HCI backends expose no acknowledged write. The write is sent
// as a command and the stone's result notification confirms delivery.
func writeWithResponse(c bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := c.WriteWithoutResponse(data)
	return err
}
