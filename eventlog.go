package smartball

// LogRecord is one entry in the event log: an opaque event code and a
// 24-bit parameter.
type LogRecord struct {
	Event byte
	Param uint32 // only the low 24 bits are meaningful
}

// EventLog is a fixed-capacity ring of LogRecords. When full, the oldest
// entry is silently overwritten. It has a single writer (the OTA state
// machine) and a single reader (Records, which copies into a
// caller-owned slice), so no locking is needed under the cooperative
// scheduling model.
type EventLog struct {
	records [eventLogCapacity]LogRecord
	head    int
	count   int
}

// NewEventLog returns an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

// Push appends an event, evicting the oldest entry if the ring is full.
// param is truncated to 24 bits, matching the on-wire record size.
func (l *EventLog) Push(event byte, param uint32) {
	l.records[l.head] = LogRecord{Event: event, Param: param & 0x00FFFFFF}
	l.head = (l.head + 1) % eventLogCapacity
	if l.count < eventLogCapacity {
		l.count++
	}
}

// Records returns a copy of the stored entries, oldest first.
func (l *EventLog) Records() []LogRecord {
	out := make([]LogRecord, l.count)
	start := (l.head - l.count + eventLogCapacity) % eventLogCapacity
	for i := 0; i < l.count; i++ {
		out[i] = l.records[(start+i)%eventLogCapacity]
	}
	return out
}

// EncodeEventLog packs records into the 4-byte wire format used by
// GET_LOG: event(1) + param(3, little-endian).
func EncodeEventLog(records []LogRecord) []byte {
	buf := make([]byte, len(records)*4)
	for i, r := range records {
		off := i * 4
		buf[off] = r.Event
		buf[off+1] = byte(r.Param)
		buf[off+2] = byte(r.Param >> 8)
		buf[off+3] = byte(r.Param >> 16)
	}
	return buf
}
