package trace

import "testing"

func TestTagsAddIsIdempotent(t *testing.T) {
	var tags Tags
	tags.Add(SMC)
	tags.Add(SMC)
	if len(tags) != 1 {
		t.Fatalf("expected Add to dedupe, got %v", tags)
	}
}

func TestTagsStringsAddsHashPrefix(t *testing.T) {
	tags := Tags{SMC, RPC}
	got := tags.Strings()
	want := []string{"#smc", "#rpc"}
	for i, g := range got {
		if g != want[i] {
			t.Errorf("Strings()[%d] = %q, want %q", i, g, want[i])
		}
	}
}

func TestNewEventSetsPrimaryTag(t *testing.T) {
	e := NewEvent(0x1000, "smc", "return_from_boot", "entry=0x41000000")
	if e.PrimaryTag() != "#smc" {
		t.Errorf("expected primary tag #smc, got %q", e.PrimaryTag())
	}
	if e.Name != "return_from_boot" {
		t.Errorf("expected name return_from_boot, got %q", e.Name)
	}
}

func TestDefaultEnricherTagsBootReturn(t *testing.T) {
	e := NewEvent(0, "smc", "return_from_boot", "")
	DefaultEnricher(e)
	if !e.Tags.Has(Boot) {
		t.Errorf("expected boot tag added, got %v", e.Tags)
	}
}

func TestDefaultEnricherTagsLoadTA(t *testing.T) {
	e := NewEvent(0, "rpc", "load_ta", "")
	DefaultEnricher(e)
	if !e.Tags.Has(LoadTA) {
		t.Errorf("expected load-ta tag added, got %v", e.Tags)
	}
}

func TestAnnotateInitializesNilMap(t *testing.T) {
	e := &Event{}
	e.Annotate("key", "value")
	if e.Annotations.Get("key") != "value" {
		t.Errorf("expected annotation to be set on a nil-initialized map")
	}
}
