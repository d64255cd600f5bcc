package alert

import "time"

// CooldownWindow is the minimum spacing between two notifications of the
// same alert. It is shared by every kind.
const CooldownWindow = time.Hour

// Gate decides whether a triggered alert may notify again. It only reads
// LastTriggeredAt; the scheduler writes it after a successful delivery.
type Gate struct {
	Window time.Duration
	Now    func() time.Time
}

func NewGate() *Gate {
	return &Gate{Window: CooldownWindow, Now: time.Now}
}

// Eligible reports whether a has never fired or fired at least Window ago.
func (g *Gate) Eligible(a Alert) bool {
	return g.EligibleAt(a, g.Now())
}

// EligibleAt is Eligible evaluated against a fixed instant, so every alert in
// one pass is judged against the same clock reading.
func (g *Gate) EligibleAt(a Alert, now time.Time) bool {
	if a.LastTriggeredAt == nil {
		return true
	}
	return now.Sub(*a.LastTriggeredAt) >= g.Window
}
