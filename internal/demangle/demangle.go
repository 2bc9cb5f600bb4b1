// Package demangle resolves the mangled Itanium C++ symbol names found in
// TZOS and trusted-application ELF images — vtable and RTTI symbols in
// particular — into human-readable class names for trace output.
package demangle

import (
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// vtableSymbolPrefix is the Itanium ABI mangling for a class's virtual
// function table symbol (e.g. "_ZTV7TA_UUID").
const vtableSymbolPrefix = "_ZTV"

// vtableDemangledPrefix is what demangle.Filter produces for a vtable
// symbol, ahead of the class name itself.
const vtableDemangledPrefix = "vtable for "

// IsVTableSymbol reports whether name is a mangled vtable symbol.
func IsVTableSymbol(name string) bool {
	return strings.HasPrefix(CleanSymbolName(name), vtableSymbolPrefix)
}

// CleanSymbolName strips a version suffix (introduced by symbol
// versioning, e.g. "@@LIBC" or "@GLIBC_2.4") from a raw ELF symbol name.
func CleanSymbolName(name string) string {
	if idx := strings.Index(name, "@@"); idx != -1 {
		return name[:idx]
	}
	if idx := strings.Index(name, "@"); idx != -1 {
		return name[:idx]
	}
	return name
}

// Symbol demangles a single mangled symbol name. Names demangle doesn't
// recognize as mangled are returned unchanged, matching demangle.Filter's
// documented behavior (the same contract as the standard c++filt tool).
func Symbol(name string) string {
	return demangle.Filter(CleanSymbolName(name))
}

// VTableClassName demangles a vtable symbol into the class name it belongs
// to (e.g. "_ZTV7TA_UUID" -> "TA_UUID"), stripping demangle's "vtable for "
// prefix. Returns ok=false if name is not a recognizable vtable symbol.
func VTableClassName(name string) (class string, ok bool) {
	if !IsVTableSymbol(name) {
		return "", false
	}
	demangled := Symbol(name)
	if !strings.HasPrefix(demangled, vtableDemangledPrefix) {
		return "", false
	}
	return strings.TrimPrefix(demangled, vtableDemangledPrefix), true
}
