package clip

import "sync"

// Segment is a contiguous span of sustained motion within a clip, holding the
// composites assembled for it and the trigger zones its subjects touched.
// Start and end times form a half-open interval over frame-buffer keys.
type Segment struct {
	Index     int
	StartTime int64
	EndTime   int64

	mu           sync.Mutex
	purposes     map[string]struct{}
	composites   []Composite
	triggerZones []string
	last         bool
}

// NewSegment creates a closed segment tagged with its outstanding purposes.
func NewSegment(index int, startTime, endTime int64, purposes []string) *Segment {
	seg := &Segment{
		Index:     index,
		StartTime: startTime,
		EndTime:   endTime,
		purposes:  make(map[string]struct{}, len(purposes)),
	}
	for _, purpose := range purposes {
		seg.purposes[purpose] = struct{}{}
	}
	return seg
}

// Contains reports whether t falls within the segment's interval.
func (s *Segment) Contains(t int64) bool {
	return t >= s.StartTime && t < s.EndTime
}

// AddPurpose tags the segment with outstanding consumer needs.
func (s *Segment) AddPurpose(purposes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, purpose := range purposes {
		s.purposes[purpose] = struct{}{}
	}
}

// RemovePurpose discharges a consumer need. Once no purposes remain the
// composites exist for nobody and are released to bound memory.
func (s *Segment) RemovePurpose(purpose string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.purposes, purpose)
	if len(s.purposes) == 0 {
		for _, composite := range s.composites {
			composite.Close()
		}
		s.composites = nil
	}
}

// Required reports whether any purpose is still outstanding.
func (s *Segment) Required() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.purposes) > 0
}

// RequiredFor reports whether the given purpose is still outstanding.
func (s *Segment) RequiredFor(purpose string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.purposes[purpose]
	return ok
}

// RequiredForAny reports whether any of the given purposes is outstanding.
func (s *Segment) RequiredForAny(purposes ...string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, purpose := range purposes {
		if _, ok := s.purposes[purpose]; ok {
			return true
		}
	}
	return false
}

func (s *Segment) addComposite(c Composite) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.composites = append(s.composites, c)
}

// Composites returns a snapshot of the segment's assembled composites.
func (s *Segment) Composites() []Composite {
	s.mu.Lock()
	defer s.mu.Unlock()
	composites := make([]Composite, len(s.composites))
	copy(composites, s.composites)
	return composites
}

func (s *Segment) clearComposites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, composite := range s.composites {
		composite.Close()
	}
	s.composites = nil
}

// AddTriggerZone records that a subject in the segment fell inside the zone.
func (s *Segment) AddTriggerZone(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.triggerZones {
		if existing == label {
			return
		}
	}
	s.triggerZones = append(s.triggerZones, label)
}

// TriggerZones returns the zone labels recorded for the segment.
func (s *Segment) TriggerZones() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	zones := make([]string, len(s.triggerZones))
	copy(zones, s.triggerZones)
	return zones
}

// SetLast marks the segment as the clip's terminal segment.
func (s *Segment) SetLast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = true
}

// Last reports whether this is the clip's terminal segment.
func (s *Segment) Last() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
