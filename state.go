package neohub

import "sync"

// store holds the last known state of every session. It is replaced
// wholesale on each full state message so nothing stale survives a
// server side configuration change.
type store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func newStore() *store {
	return &store{sessions: map[string]*Session{}}
}

func (s *store) replaceFullState(sessions []Session) {
	next := make(map[string]*Session, len(sessions))
	for _, sess := range sessions {
		if sess.ID == "" {
			log.Error("session without session_id, skipping", "name", sess.Name)
			continue
		}
		sess := sess
		next[sess.ID] = &sess
	}
	s.mu.Lock()
	s.sessions = next
	s.mu.Unlock()
}

func (s *store) applyPartitionUpdate(up PartitionUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[up.SessionID]
	if !ok {
		return false
	}
	for i, part := range sess.Partitions {
		if part.Number == up.PartitionNumber {
			sess.Partitions[i].Status = up.Status
			return true
		}
	}
	return false
}

func (s *store) applyZoneUpdate(up ZoneUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[up.SessionID]
	if !ok {
		return false
	}
	for i, zone := range sess.Zones {
		if zone.Number == up.ZoneNumber {
			sess.Zones[i].Open = up.Open
			return true
		}
	}
	return false
}

func (s *store) hasPartition(sessionID string, number int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	for _, part := range sess.Partitions {
		if part.Number == number {
			return true
		}
	}
	return false
}

// snapshot deep copies so callers can never mutate the store through
// the returned value.
func (s *store) snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(State, len(s.sessions))
	for id, sess := range s.sessions {
		cp := *sess
		cp.Partitions = make([]Partition, len(sess.Partitions))
		copy(cp.Partitions, sess.Partitions)
		cp.Zones = make([]Zone, len(sess.Zones))
		for i, zone := range sess.Zones {
			zone.Partitions = append([]int(nil), zone.Partitions...)
			cp.Zones[i] = zone
		}
		out[id] = cp
	}
	return out
}
