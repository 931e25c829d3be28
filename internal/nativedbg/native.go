package nativedbg

// NewNativeDriver opens the host's native debugging bridge. The bridge binds
// the runtime's out-of-process debugger interface, which needs a
// platform-specific component that is not part of this build; until one is
// linked in, every platform reports ErrUnsupported and callers fall back to
// the sim backend.
func NewNativeDriver() (Driver, error) {
	return nil, ErrUnsupported
}
