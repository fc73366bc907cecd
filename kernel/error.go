package kernel

// Error describes an error that originates from kernel code. Unlike a plain
// string error, it carries the name of the module that raised it so
// diagnostic output can be traced back to its source.
type Error struct {
	// Module is the short name of the subsystem that raised the error
	// (e.g. "biosmem" or "vm_page").
	Module string

	// Message describes the failure.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
