package telemetry

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"iot-telemetry-backend/internal/model"
)

const (
	maxSensorIDLen    = 10
	captureTimeLayout = "15:04:05"
)

// arduinoOnlyKeys are the keys that identify an unbundled Arduino payload.
var arduinoOnlyKeys = []string{"piezo", "speed", "arduino_relay", "piezo_relay"}

// Upload is the decoded form of one upload body.
type Upload struct {
	Readings []Reading
	Bundled  bool
}

// HasClass reports whether the upload carries a reading of class c.
func (u Upload) HasClass(c DeviceClass) bool {
	for _, r := range u.Readings {
		if r.Class == c {
			return true
		}
	}
	return false
}

// DecodeUpload turns a JSON body into readings. When class is empty the class
// is taken from arduino/nodemcu sub-objects, then from a "source" field, then
// from the keys present. Nothing is returned unless every field coerces.
func DecodeUpload(body []byte, class DeviceClass) (Upload, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return Upload{}, err
	}

	if class != "" {
		if isBundle(obj) {
			return decodeClassBundle(obj, class)
		}
		r, bad := decodeSample(class, obj, "")
		if len(bad) > 0 {
			return Upload{}, &ValidationError{Fields: bad}
		}
		return Upload{Readings: []Reading{r}}, nil
	}

	if isBundle(obj) {
		return decodeBundle(obj)
	}

	resolved, err := resolveClass(obj)
	if err != nil {
		return Upload{}, err
	}
	r, bad := decodeSample(resolved, obj, "")
	if len(bad) > 0 {
		return Upload{}, &ValidationError{Fields: bad}
	}
	return Upload{Readings: []Reading{r}}, nil
}

func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, &ValidationError{Reason: "body must be a JSON object: " + err.Error()}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &ValidationError{Reason: "body must hold a single JSON object"}
	}
	if obj == nil {
		return nil, &ValidationError{Reason: "body must be a JSON object"}
	}
	return obj, nil
}

func isBundle(obj map[string]any) bool {
	_, hasA := obj[string(ClassArduino)]
	_, hasN := obj[string(ClassNodeMCU)]
	return hasA || hasN
}

func decodeBundle(obj map[string]any) (Upload, error) {
	var (
		readings []Reading
		bad      []string
	)
	for _, class := range Classes {
		raw, ok := obj[string(class)]
		if !ok || raw == nil {
			continue
		}
		sub, ok := raw.(map[string]any)
		if !ok {
			bad = append(bad, string(class))
			continue
		}
		r, subBad := decodeSample(class, sub, string(class)+".")
		bad = append(bad, subBad...)
		readings = append(readings, r)
	}
	if len(bad) > 0 {
		return Upload{}, &ValidationError{Fields: bad}
	}
	if len(readings) == 0 {
		return Upload{}, &ValidationError{Fields: []string{"arduino", "nodemcu"}, Reason: "bundle carries no samples"}
	}
	return Upload{Readings: readings, Bundled: true}, nil
}

// decodeClassBundle accepts the bundled form on a single-class route as long
// as it only carries that class.
func decodeClassBundle(obj map[string]any, class DeviceClass) (Upload, error) {
	for _, other := range Classes {
		if other == class {
			continue
		}
		if _, ok := obj[string(other)]; ok {
			return Upload{}, &ValidationError{Fields: []string{string(other)}, Reason: "route accepts " + string(class) + " samples only"}
		}
	}
	sub, ok := obj[string(class)].(map[string]any)
	if !ok {
		return Upload{}, &ValidationError{Fields: []string{string(class)}, Reason: "must be an object"}
	}
	r, bad := decodeSample(class, sub, string(class)+".")
	if len(bad) > 0 {
		return Upload{}, &ValidationError{Fields: bad}
	}
	return Upload{Readings: []Reading{r}}, nil
}

func resolveClass(obj map[string]any) (DeviceClass, error) {
	if raw, ok := obj["source"]; ok && raw != nil {
		s, _ := raw.(string)
		class, ok := ParseDeviceClass(strings.ToLower(strings.TrimSpace(s)))
		if !ok {
			return "", &ValidationError{Fields: []string{"source"}, Reason: "must be arduino or nodemcu"}
		}
		return class, nil
	}
	for _, k := range arduinoOnlyKeys {
		if _, ok := obj[k]; ok {
			return ClassArduino, nil
		}
	}
	if _, ok := obj["nodemcu_relay"]; ok {
		return ClassNodeMCU, nil
	}
	return "", &ValidationError{Fields: []string{"source"}, Reason: "cannot tell which device sent the payload"}
}

// fieldReader accumulates coercion failures under a common prefix.
type fieldReader struct {
	obj    map[string]any
	prefix string
	bad    []string
}

func (f *fieldReader) fail(key string) {
	f.bad = append(f.bad, f.prefix+key)
}

func (f *fieldReader) intField(key string) int {
	v, ok := coerceInt(f.obj[key])
	if !ok {
		f.fail(key)
	}
	return v
}

func (f *fieldReader) floatField(key string) float64 {
	v, ok := coerceFloat(f.obj[key])
	if !ok {
		f.fail(key)
	}
	return v
}

func (f *fieldReader) boolField(key string) bool {
	v, ok := coerceBool(f.obj[key])
	if !ok {
		f.fail(key)
	}
	return v
}

func (f *fieldReader) sensorID(def string) string {
	raw, ok := f.obj["sensor_id"]
	if !ok || raw == nil {
		return def
	}
	s, ok := raw.(string)
	if !ok || len(strings.TrimSpace(s)) > maxSensorIDLen {
		f.fail("sensor_id")
		return def
	}
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func (f *fieldReader) captureTime() *string {
	key := "device_capture_time"
	raw, ok := f.obj[key]
	if !ok {
		key = "timestamp"
		raw = f.obj[key]
	}
	if raw == nil {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		f.fail(key)
		return nil
	}
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	t, err := time.Parse(captureTimeLayout, s)
	if err != nil {
		f.fail(key)
		return nil
	}
	normalized := t.Format(captureTimeLayout)
	return &normalized
}

func decodeSample(class DeviceClass, obj map[string]any, prefix string) (Reading, []string) {
	f := &fieldReader{obj: obj, prefix: prefix}
	switch class {
	case ClassArduino:
		s := &model.ArduinoSample{
			SensorID:          f.sensorID(DefaultArduinoSensorID),
			DeviceCaptureTime: f.captureTime(),
			IR1:               f.intField("ir1"),
			IR2:               f.intField("ir2"),
			Piezo:             f.floatField("piezo"),
			Speed:             f.floatField("speed"),
			ArduinoRelay:      f.boolField("arduino_relay"),
			PiezoRelay:        f.boolField("piezo_relay"),
		}
		return ArduinoReading(s), f.bad
	case ClassNodeMCU:
		s := &model.NodeMCUSample{
			SensorID:          f.sensorID(DefaultNodeMCUSensorID),
			DeviceCaptureTime: f.captureTime(),
			IR1:               f.intField("ir1"),
			IR2:               f.intField("ir2"),
			NodeMCURelay:      f.boolField("nodemcu_relay"),
		}
		return NodeMCUReading(s), f.bad
	}
	return Reading{}, []string{prefix + "source"}
}

// coerceInt accepts integers, integral floats and integer strings. Missing or
// null values are 0.
func coerceInt(v any) (int, bool) {
	switch n := v.(type) {
	case nil:
		return 0, true
	case json.Number:
		return numberToInt(string(n))
	case string:
		return numberToInt(strings.TrimSpace(n))
	case float64:
		return floatToInt(n)
	}
	return 0, false
}

func numberToInt(s string) (int, bool) {
	if i, err := strconv.ParseInt(s, 10, 0); err == nil {
		return int(i), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return floatToInt(f)
}

func floatToInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int(f), true
}

// coerceFloat accepts finite numbers and numeric strings. Missing or null
// values are 0.0.
func coerceFloat(v any) (float64, bool) {
	var (
		f   float64
		err error
	)
	switch n := v.(type) {
	case nil:
		return 0, true
	case json.Number:
		f, err = n.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
	case float64:
		f = n
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// coerceBool accepts JSON booleans and the integers 0 and 1. Missing or null
// values are false.
func coerceBool(v any) (bool, bool) {
	switch b := v.(type) {
	case nil:
		return false, true
	case bool:
		return b, true
	case json.Number:
		switch string(b) {
		case "0":
			return false, true
		case "1":
			return true, true
		}
	case float64:
		switch b {
		case 0:
			return false, true
		case 1:
			return true, true
		}
	}
	return false, false
}

// CoerceBool exposes the boolean rule for request bodies outside uploads.
func CoerceBool(v any) (bool, bool) {
	return coerceBool(v)
}
