// Package trace provides types for collecting and enriching the stream of
// events a rehosting run produces: SMC dispatches, RPCs handled, secure
// storage accesses, and forwarder world switches.
package trace

import "time"

// Tag represents a trace event category.
// Tags are stored without a # prefix; the prefix is added on rendering.
type Tag string

// Standard tags for trace events.
const (
	SMC        Tag = "smc"
	Boot       Tag = "boot"
	RPC        Tag = "rpc"
	Storage    Tag = "storage"
	SharedMem  Tag = "sharedmem"
	Forwarder  Tag = "forwarder"
	BootPatch  Tag = "bootpatch"
	Exception  Tag = "exception"
	LoadTA     Tag = "load-ta"
	CmdFailed  Tag = "cmd-failed"
	Fallback   Tag = "fallback"
)

// Tags is a collection of tags with helper methods.
type Tags []Tag

// Has returns true if the tag collection contains the given tag.
func (t Tags) Has(tag Tag) bool {
	for _, x := range t {
		if x == tag {
			return true
		}
	}
	return false
}

// Add adds a tag if not already present.
func (t *Tags) Add(tag Tag) {
	if !t.Has(tag) {
		*t = append(*t, tag)
	}
}

// Strings returns tags as strings with a # prefix for display.
func (t Tags) Strings() []string {
	out := make([]string, len(t))
	for i, tag := range t {
		out[i] = "#" + string(tag)
	}
	return out
}

// Raw returns tags as strings without the # prefix.
func (t Tags) Raw() []string {
	out := make([]string, len(t))
	for i, tag := range t {
		out[i] = string(tag)
	}
	return out
}

// Primary returns the first tag, or empty string if none.
func (t Tags) Primary() Tag {
	if len(t) > 0 {
		return t[0]
	}
	return ""
}

// Annotations holds key-value metadata for trace events.
type Annotations map[string]string

// Set adds or updates an annotation.
func (a Annotations) Set(k, v string) {
	a[k] = v
}

// Get retrieves an annotation value.
func (a Annotations) Get(k string) string {
	return a[k]
}

// Has returns true if the annotation exists.
func (a Annotations) Has(k string) bool {
	_, ok := a[k]
	return ok
}

// Event represents a single trace event with rich metadata.
type Event struct {
	PC          uint64      // program counter the event occurred at, if any
	Tags        Tags        // multiple hashtags, first is primary
	Name        string      // event name (e.g. "return_from_boot", "shm_alloc")
	Detail      string      // additional detail (e.g. "size=0x1000")
	Annotations Annotations // key-value metadata
	Timestamp   time.Time   // when the event occurred
}

// NewEvent creates a new trace event with the given parameters.
func NewEvent(pc uint64, category, name, detail string) *Event {
	return &Event{
		PC:          pc,
		Tags:        Tags{Tag(category)},
		Name:        name,
		Detail:      detail,
		Annotations: make(Annotations),
		Timestamp:   time.Now(),
	}
}

// AddTag adds a tag to the event.
func (e *Event) AddTag(tag Tag) {
	e.Tags.Add(tag)
}

// Annotate sets an annotation on the event.
func (e *Event) Annotate(k, v string) {
	if e.Annotations == nil {
		e.Annotations = make(Annotations)
	}
	e.Annotations.Set(k, v)
}

// PrimaryTag returns the primary (first) tag with a # prefix.
func (e *Event) PrimaryTag() string {
	if len(e.Tags) > 0 {
		return "#" + string(e.Tags[0])
	}
	return ""
}

// Enricher enriches trace events based on category and name.
type Enricher func(e *Event)

// DefaultEnricher adds secondary tags that help filter a trace by what
// actually happened, beyond the primary category a log call was made under.
func DefaultEnricher(e *Event) {
	if len(e.Tags) == 0 {
		return
	}

	category := string(e.Tags[0])

	switch category {
	case "smc":
		switch e.Name {
		case "return_from_boot":
			e.AddTag(Boot)
		case "call_to_normal_world":
			e.AddTag(RPC)
		}

	case "rpc":
		switch e.Name {
		case "load_ta":
			e.AddTag(LoadTA)
		case "shm_alloc", "shm_free":
			e.AddTag(SharedMem)
		}

	case "tzos":
		e.AddTag(CmdFailed)

	case "forwarder":
		e.AddTag(Forwarder)

	case "config":
		e.AddTag(BootPatch)
	}
}
