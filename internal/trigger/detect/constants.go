package detect

import "time"

const (
	// How long a text-requiring rule stays matching after the oracle stops
	// seeing text. OCR flickers on anti-aliased frames; without a grace
	// window a one-tick miss would reset the hold timer.
	TextLossGrace = 500 * time.Millisecond
)
