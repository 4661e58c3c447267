package rcp

import "time"

// maxWindowPkts bounds the in-flight budget: the span of unacknowledged
// sequence numbers must stay under half the sequence space for wraparound
// comparison to work, and every packet can consume up to MaxPayloadSize
// numbers.
const maxWindowPkts = (MaxSeqNum/2)/MaxPayloadSize - 1

// Config carries the tunables of a socket and the connections it spawns.
// A nil Config or a zero field means the default.
type Config struct {
	// AckTimeout is the base delay before the oldest unacknowledged packet
	// is retransmitted. Doubles per consecutive retransmission, capped at
	// 10 seconds. Default 200ms.
	AckTimeout time.Duration
	// MaxRetransmissions is how many times one packet is retransmitted
	// before the attempt is abandoned: ErrHandshakeTimeout during the
	// handshake, ErrRetransmitLimit afterwards. Default 8.
	MaxRetransmissions int
	// AcceptTimeout bounds a single Accept call. Zero means block forever.
	AcceptTimeout time.Duration
	// Window is the in-flight packet budget for the "sliding" strategy and
	// the initial slow-start threshold for "reno". Clamped to 14 because of
	// the sequence-number space. Default 8.
	Window int
	// Congestion picks the strategy: "stopandwait", "sliding" or "reno".
	// Default "reno".
	Congestion string
	// FastResendThresh is how many duplicate acknowledgments trigger an
	// immediate retransmission of the oldest unacknowledged packet. Zero
	// means the default of 3; negative disables fast retransmit.
	FastResendThresh int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		AckTimeout:         200 * time.Millisecond,
		MaxRetransmissions: 8,
		Window:             8,
		Congestion:         "reno",
		FastResendThresh:   3,
	}
}

// withDefaults returns a copy with every zero field filled in. Safe on nil.
func (cfg *Config) withDefaults() *Config {
	def := DefaultConfig()
	if cfg == nil {
		return def
	}
	out := *cfg
	if out.AckTimeout == 0 {
		out.AckTimeout = def.AckTimeout
	}
	if out.MaxRetransmissions == 0 {
		out.MaxRetransmissions = def.MaxRetransmissions
	}
	if out.Window == 0 {
		out.Window = def.Window
	}
	if out.Window > maxWindowPkts {
		out.Window = maxWindowPkts
	}
	if out.Congestion == "" {
		out.Congestion = def.Congestion
	}
	if out.FastResendThresh == 0 {
		out.FastResendThresh = def.FastResendThresh
	}
	return &out
}
