package tracker

const (
	DefaultTickRate   = 20
	WarnFloorSec      = 180
	WarnEverySec      = 60
	ReconnectEverySec = 300
)

// Timeout counts time since last valid inbound traffic in ticks.
// Zero value is not usable, see NewTimeout.
type Timeout struct {
	rate uint32
	sub  uint32
	sec  uint32
}

func NewTimeout(rate int) *Timeout {
	if rate <= 0 {
		rate = DefaultTickRate
	}
	return &Timeout{rate: uint32(rate)}
}

func (t *Timeout) Tick() {
	t.sub++
	if t.sub >= t.rate {
		t.sub = 0
		t.sec++
	}
}

// Reset sets counter to (1,0), not zero. Cadence checks depend on it.
func (t *Timeout) Reset() {
	t.sub = 1
	t.sec = 0
}

func (t *Timeout) ShouldWarn() bool {
	return t.sub == 0 && t.sec >= WarnFloorSec && t.sec%WarnEverySec == 0
}

func (t *Timeout) ShouldReconnect() bool {
	return t.sub == 0 && t.sec != 0 && t.sec%ReconnectEverySec == 0
}

func (t *Timeout) Seconds() uint32 { return t.sec }

func (t *Timeout) Value() (sub, sec uint32) { return t.sub, t.sec }
