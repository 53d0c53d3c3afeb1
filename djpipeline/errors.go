package djpipeline

import "errors"

var (
	// ErrOnCooldown is returned when a job is proposed sooner than
	// MinDJSpacing after the last DJ line played.
	ErrOnCooldown = errors.New("djpipeline: on cooldown")

	// ErrQuarantinedText is returned when generated text fails a quality
	// gate (length, forbidden token, or missing artist mention).
	ErrQuarantinedText = errors.New("djpipeline: text quarantined")

	// ErrBackpressure is returned when every slot of the concurrent-job
	// semaphore is held. The rejected job is dropped, not queued.
	ErrBackpressure = errors.New("djpipeline: backpressure")
)
