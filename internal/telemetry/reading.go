// Package telemetry defines the device classes, the readings they report and the
// rules for turning an upload payload into readings.
package telemetry

import (
	"time"

	"iot-telemetry-backend/internal/model"
)

// DeviceClass identifies which board firmware produced a reading.
type DeviceClass string

const (
	ClassArduino DeviceClass = "arduino"
	ClassNodeMCU DeviceClass = "nodemcu"
)

// Classes lists every device class in the order views report them.
var Classes = []DeviceClass{ClassArduino, ClassNodeMCU}

// Default sensor ids used when a board omits sensor_id.
const (
	DefaultArduinoSensorID = "ARDU_01"
	DefaultNodeMCUSensorID = "NMCU_01"
)

// ParseDeviceClass maps a raw string onto a DeviceClass.
func ParseDeviceClass(s string) (DeviceClass, bool) {
	switch DeviceClass(s) {
	case ClassArduino:
		return ClassArduino, true
	case ClassNodeMCU:
		return ClassNodeMCU, true
	}
	return "", false
}

// Reading is a sample from exactly one device class. Class selects which of
// Arduino or NodeMCU is set.
type Reading struct {
	Class   DeviceClass
	Arduino *model.ArduinoSample
	NodeMCU *model.NodeMCUSample
}

// ArduinoReading wraps an Arduino sample.
func ArduinoReading(s *model.ArduinoSample) Reading {
	return Reading{Class: ClassArduino, Arduino: s}
}

// NodeMCUReading wraps a NodeMCU sample.
func NodeMCUReading(s *model.NodeMCUSample) Reading {
	return Reading{Class: ClassNodeMCU, NodeMCU: s}
}

// ReceivedAt returns the server receive time of the wrapped sample.
func (r Reading) ReceivedAt() time.Time {
	switch r.Class {
	case ClassArduino:
		if r.Arduino != nil {
			return r.Arduino.ServerReceiveTime
		}
	case ClassNodeMCU:
		if r.NodeMCU != nil {
			return r.NodeMCU.ServerReceiveTime
		}
	}
	return time.Time{}
}

// SetReceivedAt stamps the wrapped sample. Only the store calls this.
func (r Reading) SetReceivedAt(t time.Time) {
	switch r.Class {
	case ClassArduino:
		r.Arduino.ServerReceiveTime = t
	case ClassNodeMCU:
		r.NodeMCU.ServerReceiveTime = t
	}
}

// Valid reports whether the sample matching Class is present.
func (r Reading) Valid() bool {
	switch r.Class {
	case ClassArduino:
		return r.Arduino != nil
	case ClassNodeMCU:
		return r.NodeMCU != nil
	}
	return false
}
