package sensor

// Bus is the register-level transport to the sensor board plus its READY
// line. Implementations are used from a single goroutine.
type Bus interface {
	// ReadBlock reads n bytes starting at register reg.
	ReadBlock(addr uint16, reg byte, n int) ([]byte, error)
	// WriteBlock writes data starting at register reg.
	WriteBlock(addr uint16, reg byte, data []byte) error
	// WriteCommand sends a single command byte.
	WriteCommand(addr uint16, cmd byte) error
	// ReadyEvent reports whether a READY edge occurred since the last call.
	ReadyEvent() bool
	Close() error
}
