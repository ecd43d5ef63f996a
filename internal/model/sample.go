package model

import "time"

// ArduinoSample is one reading set reported by the Arduino-class sensor board.
type ArduinoSample struct {
	ID                int64     `gorm:"primaryKey" json:"-"`
	SensorID          string    `gorm:"size:10;not null" json:"sensor_id"`
	DeviceCaptureTime *string   `gorm:"size:8" json:"capture_time,omitempty"` // board clock, HH:MM:SS
	IR1               int       `gorm:"column:ir1;not null" json:"ir1"`
	IR2               int       `gorm:"column:ir2;not null" json:"ir2"`
	Piezo             float64   `gorm:"not null" json:"piezo"`
	Speed             float64   `gorm:"not null" json:"speed"`
	ArduinoRelay      bool      `gorm:"not null" json:"arduino_relay"`
	PiezoRelay        bool      `gorm:"not null" json:"piezo_relay"`
	ServerReceiveTime time.Time `gorm:"not null;index" json:"timestamp"`
}

// NodeMCUSample is one reading set reported by the NodeMCU-class sensor/relay board.
type NodeMCUSample struct {
	ID                int64     `gorm:"primaryKey" json:"-"`
	SensorID          string    `gorm:"size:10;not null" json:"sensor_id"`
	DeviceCaptureTime *string   `gorm:"size:8" json:"capture_time,omitempty"`
	IR1               int       `gorm:"column:ir1;not null" json:"ir1"`
	IR2               int       `gorm:"column:ir2;not null" json:"ir2"`
	NodeMCURelay      bool      `gorm:"column:nodemcu_relay;not null" json:"nodemcu_relay"`
	ServerReceiveTime time.Time `gorm:"not null;index" json:"timestamp"`
}

// TableName pins the table name; gorm would otherwise derive "node_mcu_samples".
func (NodeMCUSample) TableName() string { return "nodemcu_samples" }
