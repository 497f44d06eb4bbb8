package supervisor

import (
	"sort"
	"time"
)

// TaskStats is a best-effort view of one named goroutine, for health output.
type TaskStats struct {
	Name        string    `json:"name"`
	Active      bool      `json:"active"`
	Started     uint64    `json:"started"`
	Restarts    uint64    `json:"restarts"`
	Panics      uint64    `json:"panics"`
	LastStartAt time.Time `json:"last_start_at"`
	LastStopAt  time.Time `json:"last_stop_at,omitempty"`
	LastErr     string    `json:"last_err,omitempty"`
	LastPanic   string    `json:"last_panic,omitempty"`
}

type Snapshot struct {
	FirstError string      `json:"first_error,omitempty"`
	Tasks      []TaskStats `json:"tasks"`
}

// Healthy reports whether no fatal error was recorded.
func (s Snapshot) Healthy() bool { return s.FirstError == "" }

type taskStats struct {
	active      int
	started     uint64
	restarts    uint64
	panics      uint64
	lastStartAt time.Time
	lastStopAt  time.Time
	lastErr     string
	lastPanic   string
}

func (s *Supervisor) note(name string, fn func(st *taskStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[name]
	if st == nil {
		st = &taskStats{}
		s.stats[name] = st
	}
	fn(st)
}

func (s *Supervisor) started(name string, restart bool) time.Time {
	now := s.now()
	s.note(name, func(st *taskStats) {
		st.active++
		st.started++
		if restart {
			st.restarts++
		}
		st.lastStartAt = now
	})
	return now
}

func (s *Supervisor) stopped(name string, err error) {
	now := s.now()
	s.note(name, func(st *taskStats) {
		if st.active > 0 {
			st.active--
		}
		st.lastStopAt = now
		if err != nil {
			st.lastErr = err.Error()
		}
	})
}

// Snapshot returns the current task stats sorted by name.
func (s *Supervisor) Snapshot() Snapshot {
	var snap Snapshot
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	s.mu.Lock()
	for name, st := range s.stats {
		snap.Tasks = append(snap.Tasks, TaskStats{
			Name:        name,
			Active:      st.active > 0,
			Started:     st.started,
			Restarts:    st.restarts,
			Panics:      st.panics,
			LastStartAt: st.lastStartAt,
			LastStopAt:  st.lastStopAt,
			LastErr:     st.lastErr,
			LastPanic:   st.lastPanic,
		})
	}
	s.mu.Unlock()
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].Name < snap.Tasks[j].Name })
	return snap
}
