//go:build darwin || windows

package ble

import "tinygo.org/x/bluetooth"

func writeWithResponse(c bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := c.Write(data)
	return err
}
