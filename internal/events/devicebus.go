package events

import "time"

// ForwardDeviceFrames registers a listener (via register, the link's
// OnFrame call passed as a closure so this package need not import
// plclink) that publishes every SNS/BTN/LCD frame onto bus, per spec 6.1's
// "framed text messages ... MUST be forwarded to listeners." The QR-bearing
// frame tag is registered separately by qrsource.Framed; this forwarder
// ignores any tag it does not recognize so the two registrations can
// coexist on the link's now-multi-listener OnFrame.
func ForwardDeviceFrames(register func(fn func(tag, body string)), bus *Bus) {
	register(func(tag, body string) {
		switch tag {
		case "SNS":
			name, val := splitNameValue(body)
			bus.Publish(Event{Kind: KindSensorUpdate, Time: time.Now(), Name: name, Value: sensorTruthy(val)})
		case "BTN":
			name, val := splitNameValue(body)
			bus.Publish(Event{Kind: KindButtonUpdate, Time: time.Now(), Name: name, Value: buttonTruthy(val)})
		case "LCD":
			bus.Publish(Event{Kind: KindLCDText, Time: time.Now(), Text: body})
		}
	})
}

// splitNameValue splits "name:value" into its two halves; a payload with no
// colon is returned entirely as the name with an empty value.
func splitNameValue(payload string) (name, value string) {
	for i := 0; i < len(payload); i++ {
		if payload[i] == ':' {
			return payload[:i], payload[i+1:]
		}
	}
	return payload, ""
}

// sensorTruthy implements spec 6.1's SNS value semantics: truthy unless the
// value is one of 0, OFF, FALSE, false.
func sensorTruthy(value string) bool {
	switch value {
	case "0", "OFF", "FALSE", "false":
		return false
	default:
		return true
	}
}

// buttonTruthy implements spec 6.1's BTN value semantics: truthy unless the
// value is one of 0, UP, RELEASED, OFF.
func buttonTruthy(value string) bool {
	switch value {
	case "0", "UP", "RELEASED", "OFF":
		return false
	default:
		return true
	}
}
