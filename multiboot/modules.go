package multiboot

import (
	"reflect"
	"unsafe"
)

// moduleTag describes the fixed-size header of a multiboot2 module tag. A
// NUL-terminated command line string immediately follows it in memory.
type moduleTag struct {
	modStart uint32
	modEnd   uint32
}

// Module describes a boot module loaded by the bootloader alongside the
// kernel image (e.g. an initrd).
type Module struct {
	// Start and End delimit the module's contents in physical memory.
	Start, End uintptr

	// CmdLine is the command line string associated with the module, or
	// the empty string if the bootloader did not supply one.
	CmdLine string
}

// ModuleVisitor is invoked by VisitModules for each module reported by the
// bootloader. It must return true to continue the scan or false to abort it.
type ModuleVisitor func(Module) bool

// VisitModules invokes visitor once for every boot module entry found in the
// multiboot info. Unlike VisitMemRegions and VisitElfSections, module tags
// may appear more than once (one tag per loaded module) so this function
// scans the entire tag list rather than stopping at the first match.
func VisitModules(visitor ModuleVisitor) {
	curPtr := infoData + 8

	for {
		hdr := (*tagHeader)(unsafe.Pointer(curPtr))
		if hdr.tagType == tagMbSectionEnd {
			return
		}

		if hdr.tagType == tagModules {
			payload := curPtr + 8
			mod := (*moduleTag)(unsafe.Pointer(payload))
			strStart := payload + unsafe.Sizeof(*mod)
			strLen := uintptr(hdr.size) - 8 - unsafe.Sizeof(*mod)

			m := Module{
				Start:   uintptr(mod.modStart),
				End:     uintptr(mod.modEnd),
				CmdLine: cString(strStart, strLen),
			}

			if !visitor(m) {
				return
			}
		}

		curPtr += uintptr(int32(hdr.size+7) & ^7)
	}
}

// cString decodes a NUL-terminated string stored at addr, searching at most
// maxLen bytes for the terminator.
func cString(addr, maxLen uintptr) string {
	raw := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(maxLen),
		Cap:  int(maxLen),
		Data: addr,
	}))

	for i, b := range raw {
		if b == 0 {
			return string(raw[:i])
		}
	}

	return string(raw)
}
