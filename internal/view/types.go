package view

import (
	"time"

	"iot-telemetry-backend/internal/telemetry"
)

// ArduinoState is the dashboard shape of the latest Arduino sample.
type ArduinoState struct {
	SensorID     string     `json:"sensor_id"`
	CaptureTime  *string    `json:"capture_time"`
	IR1          int        `json:"ir1"`
	IR2          int        `json:"ir2"`
	Piezo        float64    `json:"piezo"`
	Speed        float64    `json:"speed"`
	ArduinoRelay bool       `json:"arduino_relay"`
	PiezoRelay   bool       `json:"piezo_relay"`
	Timestamp    *time.Time `json:"timestamp"`
}

// NodeMCUState is the dashboard shape of the latest NodeMCU sample.
type NodeMCUState struct {
	SensorID     string     `json:"sensor_id"`
	CaptureTime  *string    `json:"capture_time"`
	IR1          int        `json:"ir1"`
	IR2          int        `json:"ir2"`
	NodeMCURelay bool       `json:"nodemcu_relay"`
	Timestamp    *time.Time `json:"timestamp"`
}

// LatestState is the payload of GET /api/latest and of live broadcasts.
type LatestState struct {
	Arduino     ArduinoState `json:"arduino"`
	NodeMCU     NodeMCUState `json:"nodemcu"`
	LastSeen    float64      `json:"last_seen"`
	IsConnected bool         `json:"is_connected"`
	NodeMCUIP   string       `json:"nodemcu_ip"`
	// LatencyDiff is Arduino minus NodeMCU latest receive time, in milliseconds.
	LatencyDiff *float64 `json:"latency_diff"`
}

// Row is one uniform history row; fields the source class lacks hold neutral
// defaults.
type Row struct {
	Source       telemetry.DeviceClass `json:"source"`
	SensorID     string                `json:"sensor_id,omitempty"`
	CaptureTime  *string               `json:"capture_time,omitempty"`
	IR1          int                   `json:"ir1"`
	IR2          int                   `json:"ir2"`
	Piezo        float64               `json:"piezo"`
	Speed        float64               `json:"speed"`
	ArduinoRelay bool                  `json:"arduino_relay"`
	PiezoRelay   bool                  `json:"piezo_relay"`
	NodeMCURelay bool                  `json:"nodemcu_relay"`
	Timestamp    time.Time             `json:"timestamp"`
}

func arduinoState(r telemetry.Reading) ArduinoState {
	a := r.Arduino
	ts := a.ServerReceiveTime
	return ArduinoState{
		SensorID:     a.SensorID,
		CaptureTime:  a.DeviceCaptureTime,
		IR1:          a.IR1,
		IR2:          a.IR2,
		Piezo:        a.Piezo,
		Speed:        a.Speed,
		ArduinoRelay: a.ArduinoRelay,
		PiezoRelay:   a.PiezoRelay,
		Timestamp:    &ts,
	}
}

func nodeMCUState(r telemetry.Reading) NodeMCUState {
	n := r.NodeMCU
	ts := n.ServerReceiveTime
	return NodeMCUState{
		SensorID:     n.SensorID,
		CaptureTime:  n.DeviceCaptureTime,
		IR1:          n.IR1,
		IR2:          n.IR2,
		NodeMCURelay: n.NodeMCURelay,
		Timestamp:    &ts,
	}
}

func rowFromReading(r telemetry.Reading) Row {
	switch r.Class {
	case telemetry.ClassArduino:
		a := r.Arduino
		return Row{
			Source:       telemetry.ClassArduino,
			SensorID:     a.SensorID,
			CaptureTime:  a.DeviceCaptureTime,
			IR1:          a.IR1,
			IR2:          a.IR2,
			Piezo:        a.Piezo,
			Speed:        a.Speed,
			ArduinoRelay: a.ArduinoRelay,
			PiezoRelay:   a.PiezoRelay,
			Timestamp:    a.ServerReceiveTime,
		}
	case telemetry.ClassNodeMCU:
		n := r.NodeMCU
		return Row{
			Source:       telemetry.ClassNodeMCU,
			SensorID:     n.SensorID,
			CaptureTime:  n.DeviceCaptureTime,
			IR1:          n.IR1,
			IR2:          n.IR2,
			NodeMCURelay: n.NodeMCURelay,
			Timestamp:    n.ServerReceiveTime,
		}
	}
	return Row{Source: r.Class}
}
