package neurotap

import (
	"fmt"
	"time"
)

// HardwareTimeoutError is fatal: the device produced no data for the whole
// escalation window and the connection is considered broken.
type HardwareTimeoutError struct {
	Polls  int
	Window time.Duration
}

func (e *HardwareTimeoutError) Error() string {
	return fmt.Sprintf("connection to hardware is broken: no data after %d polls (%s)", e.Polls, e.Window)
}

// BatteryLowError is fatal: the supply voltage dropped below the safety
// threshold and no further hardware writes may be attempted.
type BatteryLowError struct {
	Voltage float64
}

func (e *BatteryLowError) Error() string {
	return fmt.Sprintf("battery low (%.1fV)", e.Voltage)
}
