package coach

import "strings"

// FallbackPose is used when no pose sequence is configured.
const FallbackPose = "Mountain Pose"

// Script is the ordered, cyclic pose sequence for one upstream session.
type Script struct {
	poses []string
	idx   int
}

// ParseScript builds a Script from a comma-separated pose list. Blank
// entries are dropped; an empty result falls back to a single default pose.
func ParseScript(sequence string) *Script {
	var poses []string
	for _, p := range strings.Split(sequence, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			poses = append(poses, p)
		}
	}
	if len(poses) == 0 {
		poses = []string{FallbackPose}
	}
	return &Script{poses: poses}
}

// Next returns the current pose and advances the index, wrapping modulo
// the sequence length.
func (s *Script) Next() string {
	pose := s.poses[s.idx%len(s.poses)]
	s.idx = (s.idx + 1) % len(s.poses)
	return pose
}

func (s *Script) Len() int {
	return len(s.poses)
}

// Index reports the current position in the cycle.
func (s *Script) Index() int {
	return s.idx
}
