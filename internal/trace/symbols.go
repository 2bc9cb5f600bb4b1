package trace

import (
	"sort"

	"github.com/zboralski/tzrehost/internal/demangle"
)

// VTableClass is a single demangled vtable symbol found in a loaded image.
type VTableClass struct {
	Name    string
	Address uint64
}

// VTableClasses returns the demangled class name for every vtable symbol in
// symbols, sorted by address, for surfacing which classes a TZOS or trusted
// application image defines.
func VTableClasses(symbols map[string]uint64) []VTableClass {
	var out []VTableClass
	for name, addr := range symbols {
		if class, ok := demangle.VTableClassName(name); ok {
			out = append(out, VTableClass{Name: class, Address: addr})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// ResolveSymbol finds the symbol in symbols with the highest address at or
// below addr and returns its demangled name plus the byte offset from that
// symbol's address, e.g. ResolveSymbol(0x4010, {"TA_UUID::get": 0x4000})
// returns ("TA_UUID::get", 0x10, true). Returns ok=false if no symbol in
// symbols is at or before addr.
func ResolveSymbol(addr uint64, symbols map[string]uint64) (name string, offset uint64, ok bool) {
	var bestAddr uint64
	var bestName string
	found := false
	for raw, symAddr := range symbols {
		if symAddr > addr {
			continue
		}
		if !found || symAddr > bestAddr {
			bestAddr = symAddr
			bestName = raw
			found = true
		}
	}
	if !found {
		return "", 0, false
	}
	return demangle.Symbol(bestName), addr - bestAddr, true
}
