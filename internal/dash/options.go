package dash

import "time"

// Timing holds the cadences and deadlines of every loop role.
type Timing struct {
	RetryInterval     time.Duration
	ConnectTimeout    time.Duration
	HeartbeatPeriod   time.Duration
	HeartbeatDeadline time.Duration
	DataPeriod        time.Duration
	DataDeadline      time.Duration
	EventPeriod       time.Duration
	EventDeadline     time.Duration
	CommandTimeout    time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		RetryInterval:     3 * time.Second,
		ConnectTimeout:    5 * time.Second,
		HeartbeatPeriod:   2 * time.Second,
		HeartbeatDeadline: time.Second,
		DataPeriod:        250 * time.Millisecond,
		DataDeadline:      250 * time.Millisecond,
		EventPeriod:       500 * time.Millisecond,
		EventDeadline:     500 * time.Millisecond,
		CommandTimeout:    2 * time.Second,
	}
}

func (t Timing) withDefaults() Timing {
	def := DefaultTiming()
	fill := func(v *time.Duration, d time.Duration) {
		if *v <= 0 {
			*v = d
		}
	}
	fill(&t.RetryInterval, def.RetryInterval)
	fill(&t.ConnectTimeout, def.ConnectTimeout)
	fill(&t.HeartbeatPeriod, def.HeartbeatPeriod)
	fill(&t.HeartbeatDeadline, def.HeartbeatDeadline)
	fill(&t.DataPeriod, def.DataPeriod)
	fill(&t.DataDeadline, def.DataDeadline)
	fill(&t.EventPeriod, def.EventPeriod)
	fill(&t.EventDeadline, def.EventDeadline)
	fill(&t.CommandTimeout, def.CommandTimeout)

	return t
}

// Options configures a Client. The poll toggles survive reconnects.
type Options struct {
	Timing       Timing
	DataEnabled  bool
	EventEnabled bool
}
