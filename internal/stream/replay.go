package stream

import "github.com/oceanomics/seqtrack/internal/pipeline"

// replayFilter drops records a resumed stream delivers a second time.
// Records that carry an id are matched by id. Records without one are
// matched by position: a backend that restarts the stream from the beginning
// repeats the log already held, so inbound records are skipped while they
// equal that log in order.
type replayFilter struct {
	ids      map[string]struct{}
	prefix   []pipeline.Event
	pos      int
	skipping bool
}

func newReplayFilter(existing []pipeline.Event) *replayFilter {
	f := &replayFilter{
		ids:      make(map[string]struct{}),
		prefix:   existing,
		skipping: len(existing) > 0,
	}
	for _, ev := range existing {
		if ev.ID != "" {
			f.ids[ev.ID] = struct{}{}
		}
	}
	return f
}

func (f *replayFilter) skip(ev pipeline.Event) bool {
	if f.skipping {
		if f.pos < len(f.prefix) && f.prefix[f.pos].Equal(ev) {
			f.pos++
			return true
		}
		f.skipping = false
	}
	if ev.ID == "" {
		return false
	}
	if _, ok := f.ids[ev.ID]; ok {
		return true
	}
	f.ids[ev.ID] = struct{}{}
	return false
}
