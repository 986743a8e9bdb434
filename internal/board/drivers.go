package board

import (
	"fmt"

	"github.com/nerrad567/gray-logic-iobridge/internal/device"
	"github.com/nerrad567/gray-logic-iobridge/internal/drivers/linedev"
	"github.com/nerrad567/gray-logic-iobridge/internal/drivers/mqttin"
	"github.com/nerrad567/gray-logic-iobridge/internal/drivers/sim"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/config"
)

// Driver names accepted in configuration.
const (
	DriverSim     = "sim"
	DriverLineDev = "linedev"
	DriverMQTTIn  = "mqttin"
)

// BuildDevices creates a Device for every enabled entry in cfgs. sub is only
// needed by mqttin devices and may be nil otherwise.
func BuildDevices(cfgs []config.DeviceConfig, sub mqttin.Subscriber) ([]Device, error) {
	out := make([]Device, 0, len(cfgs))
	for _, c := range cfgs {
		if !c.IsEnabled() {
			continue
		}
		d, err := BuildDevice(c, sub)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// BuildDevice creates the driver named by c.Driver for c.Class.
func BuildDevice(c config.DeviceConfig, sub mqttin.Subscriber) (Device, error) {
	class, err := device.ParseClass(c.Class)
	if err != nil {
		return Device{}, fmt.Errorf("device %q: %w", c.Name, err)
	}

	var drv device.Driver
	switch c.Driver {
	case DriverSim:
		drv = sim.New(c.Name, class)
	case DriverLineDev:
		drv = linedev.New(c.Name, class)
	case DriverMQTTIn:
		if sub == nil {
			return Device{}, fmt.Errorf("device %q: driver mqttin requires an MQTT connection", c.Name)
		}
		drv = mqttin.New(c.Name, class, sub)
	default:
		return Device{}, fmt.Errorf("device %q: unknown driver %q", c.Name, c.Driver)
	}

	return Device{Driver: drv, Properties: device.Properties(c.Properties).Clone()}, nil
}
