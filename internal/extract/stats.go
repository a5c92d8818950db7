package extract

// Stats contains statistics from an extraction.
type Stats struct {
	// Written is the number of entries committed to the sink.
	Written int

	// Skipped is the number of entries the sink declined, plus redirects
	// when redirects are not followed.
	Skipped int

	// Bytes is the total content size of written entries.
	Bytes uint64
}

// add accumulates stats from another Stats into this one.
func (s *Stats) add(other Stats) {
	s.Written += other.Written
	s.Skipped += other.Skipped
	s.Bytes += other.Bytes
}
