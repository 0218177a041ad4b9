package regionalloc

var (
	ErrInvalidSize       = &AllocError{"requested size is zero or overflows page rounding"}
	ErrOutOfAddressSpace = &AllocError{"no gap large enough in the address space"}
	ErrOutOfMemory       = &AllocError{"backing buffer could not be obtained"}
	ErrInvalidFree       = &AllocError{"pointer does not belong to any live region"}
	ErrRangeBusy         = &AllocError{"requested range overlaps a live region"}
)

type AllocError struct {
	Msg string
}

func (e *AllocError) Error() string {
	return e.Msg
}

func (e *AllocError) Is(target error) bool {
	if targetErr, ok := target.(*AllocError); ok {
		return e.Msg == targetErr.Msg
	}
	return false
}
