package live

import (
	"strings"
	"testing"

	"github.com/zboralski/tzrehost/internal/trace"
)

func TestRenderIncludesEventFields(t *testing.T) {
	m := New(nil)
	m.events = []*trace.Event{
		trace.NewEvent(0x40001000, "smc", "return_from_boot", "entry=0x40001000"),
	}

	got := m.render()
	if !strings.Contains(got, "return_from_boot") {
		t.Errorf("expected rendered output to include the event name, got %q", got)
	}
	if !strings.Contains(got, "entry=0x40001000") {
		t.Errorf("expected rendered output to include the event detail, got %q", got)
	}
	if !strings.Contains(got, "0x40001000") {
		t.Errorf("expected rendered output to include the formatted pc, got %q", got)
	}
}

func TestUpdateAppendsIncomingEvent(t *testing.T) {
	ch := make(chan *trace.Event, 1)
	e := trace.NewEvent(0, "rpc", "shm_alloc", "size=0x1000")
	ch <- e
	close(ch)

	m := New(ch)
	next, _ := m.Update(eventMsg(e))
	updated := next.(Model)

	if len(updated.events) != 1 {
		t.Fatalf("expected 1 event recorded, got %d", len(updated.events))
	}
	if updated.events[0].Name != "shm_alloc" {
		t.Errorf("expected shm_alloc event, got %q", updated.events[0].Name)
	}
}

func TestUpdateIgnoresNilEventMsg(t *testing.T) {
	m := New(nil)
	next, cmd := m.Update(eventMsg(nil))
	updated := next.(Model)

	if len(updated.events) != 0 {
		t.Errorf("expected no events recorded for a nil eventMsg, got %d", len(updated.events))
	}
	if cmd != nil {
		t.Errorf("expected no follow-up command for a nil eventMsg")
	}
}
