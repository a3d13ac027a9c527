package smartball

import "testing"

func TestEventLogOldestFirst(t *testing.T) {
	log := NewEventLog()
	log.Push(EventStart, 1)
	log.Push(EventReady, 2)
	log.Push(EventReboot, 3)

	got := log.Records()
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	if got[0].Event != EventStart || got[1].Event != EventReady || got[2].Event != EventReboot {
		t.Fatalf("wrong order: %+v", got)
	}
}

func TestEventLogEvictsOldestWhenFull(t *testing.T) {
	log := NewEventLog()
	for i := 0; i < eventLogCapacity+5; i++ {
		log.Push(byte(i%256), uint32(i))
	}

	got := log.Records()
	if len(got) != eventLogCapacity {
		t.Fatalf("got %d records, want %d", len(got), eventLogCapacity)
	}
	// The oldest surviving record should be the 6th pushed (index 5),
	// since 5 entries were evicted.
	if got[0].Param != 5 {
		t.Fatalf("oldest record param = %d, want 5", got[0].Param)
	}
	if got[len(got)-1].Param != uint32(eventLogCapacity+4) {
		t.Fatalf("newest record param = %d, want %d", got[len(got)-1].Param, eventLogCapacity+4)
	}
}

func TestEventLogParamTruncatedTo24Bits(t *testing.T) {
	log := NewEventLog()
	log.Push(EventStart, 0xFFFFFFFF)
	got := log.Records()
	if got[0].Param != 0x00FFFFFF {
		t.Fatalf("got param %#x, want %#x", got[0].Param, 0x00FFFFFF)
	}
}

func TestEncodeEventLog(t *testing.T) {
	records := []LogRecord{{Event: 4, Param: 0x010203}}
	buf := EncodeEventLog(records)
	want := []byte{4, 0x03, 0x02, 0x01}
	if len(buf) != 4 || buf[0] != want[0] || buf[1] != want[1] || buf[2] != want[2] || buf[3] != want[3] {
		t.Fatalf("got %v, want %v", buf, want)
	}
}
