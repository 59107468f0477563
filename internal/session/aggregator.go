package session

// State is the running accumulator of one session.
type State struct {
	CumVolume      float64
	CumVolumeValue float64
}

// VWAP returns cumVolumeValue/cumVolume, or 0 when no volume has traded.
func (s *State) VWAP() float64 {
	if s.CumVolume == 0 {
		return 0
	}
	return s.CumVolumeValue / s.CumVolume
}

// Aggregator keeps one State per session key. Sessions are created lazily
// and, unless a retention horizon is set, never removed.
type Aggregator struct {
	cal           Calendar
	sessions      map[string]*State
	retentionDays int
	newest        string

	// OnEvict is called with each session key removed by retention.
	OnEvict func(key string)
}

// NewAggregator creates an aggregator. retentionDays <= 0 keeps every session
// for the life of the process; otherwise sessions more than retentionDays
// calendar days older than the newest session are evicted.
func NewAggregator(cal Calendar, retentionDays int) *Aggregator {
	return &Aggregator{
		cal:           cal,
		sessions:      make(map[string]*State, 8),
		retentionDays: retentionDays,
	}
}

// Add accumulates volume at price into the session for key.
func (a *Aggregator) Add(key string, volume, price float64) *State {
	s, ok := a.sessions[key]
	if !ok {
		s = &State{}
		a.sessions[key] = s
		if key > a.newest {
			a.newest = key
			a.evict()
		}
	}
	s.CumVolume += volume
	s.CumVolumeValue += volume * price
	return s
}

// VWAP returns the session's VWAP, 0 for an unknown or volume-less session.
func (a *Aggregator) VWAP(key string) float64 {
	s, ok := a.sessions[key]
	if !ok {
		return 0
	}
	return s.VWAP()
}

// Get returns the session state for key.
func (a *Aggregator) Get(key string) (State, bool) {
	s, ok := a.sessions[key]
	if !ok {
		return State{}, false
	}
	return *s, true
}

// Len returns the number of sessions currently held.
func (a *Aggregator) Len() int { return len(a.sessions) }

// Calendar returns the calendar used to key sessions.
func (a *Aggregator) Calendar() Calendar { return a.cal }

func (a *Aggregator) evict() {
	if a.retentionDays <= 0 {
		return
	}
	newest, err := a.cal.Date(a.newest)
	if err != nil {
		return
	}
	cutoff := newest.AddDate(0, 0, -a.retentionDays).Format(KeyLayout)
	for key := range a.sessions {
		// Keys are YYYYMMDD, so lexical order is chronological.
		if key < cutoff {
			delete(a.sessions, key)
			if a.OnEvict != nil {
				a.OnEvict(key)
			}
		}
	}
}
