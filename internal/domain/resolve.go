package domain

// ResolveRange returns the inclusive calendar-day span covered by batch.
// Days are taken in each observation's own offset; the bounds are the smallest and largest of those days,
// so Start never exceeds End even when offsets differ within a batch.
func ResolveRange(batch []Observation) (DateRange, error) {
	if len(batch) == 0 {
		return DateRange{}, ErrEmptyBatch
	}

	start := DateOf(batch[0].Timestamp)
	end := start
	for _, obs := range batch[1:] {
		day := DateOf(obs.Timestamp)
		if day.Before(start) {
			start = day
		}
		if day.After(end) {
			end = day
		}
	}
	return DateRange{Start: start, End: end}, nil
}
