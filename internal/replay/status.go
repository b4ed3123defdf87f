package replay

// Status is the outcome of processing one packet.
type Status uint8

const (
	StatusOK Status = iota
	// StatusNextFrame means the packet ended a frame.
	StatusNextFrame
	// StatusResizeWindowPending means the packet was not consumed and must be
	// submitted again.
	StatusResizeWindowPending
	StatusAtEOF
	// StatusDriverDivergence is a soft status: the driver reported an error
	// the capture did not see.
	StatusDriverDivergence
	StatusSoftFailure
	// StatusHardFailure aborts replay; the engine has been reset.
	StatusHardFailure
)

var statusNames = [...]string{
	StatusOK:                  "ok",
	StatusNextFrame:           "next_frame",
	StatusResizeWindowPending: "resize_pending",
	StatusAtEOF:               "eof",
	StatusDriverDivergence:    "divergence",
	StatusSoftFailure:         "soft_failure",
	StatusHardFailure:         "hard_failure",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Failed reports whether replay cannot continue.
func (s Status) Failed() bool {
	return s == StatusHardFailure
}
