package robot

// EventType discriminates one-shot events routed through the event queues.
type EventType uint8

const (
	// EventBeep asks the USB worker to sound the buzzer once. Data0 is the
	// on-time in milliseconds.
	EventBeep EventType = 0
	// EventFlagRise reports a command flag bit that rose since the previous
	// command frame. Data0 is the bit index, Data1 the full flag byte.
	EventFlagRise EventType = 1
	// EventConfigApplied reports a runtime config mutation. Data0 is the
	// config key that was applied.
	EventConfigApplied EventType = 2
)

// String returns a short token for log lines.
func (t EventType) String() string {
	switch t {
	case EventBeep:
		return "beep"
	case EventFlagRise:
		return "flag_rise"
	case EventConfigApplied:
		return "config_applied"
	}
	return "unknown"
}

// EventCmd is a discrete one-shot event. Seq is the sequence number of the
// command frame that produced it; Data0..Data3 and Aux carry type-specific
// payload.
type EventCmd struct {
	Type  EventType
	Seq   uint32
	Data0 uint8
	Data1 uint8
	Data2 uint8
	Data3 uint8
	Aux   uint32
}
