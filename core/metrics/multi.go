package metrics

// MultiSink fans events out to several sinks. The first error is returned
// after every sink has been called.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordDispatch(ev DispatchEvent) error {
	var first error
	for _, s := range m.Sinks {
		if err := s.RecordDispatch(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *MultiSink) RecordStatusChange(ev StatusEvent) error {
	var first error
	for _, s := range m.Sinks {
		if rec, ok := s.(StatusRecorder); ok {
			if err := rec.RecordStatusChange(ev); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

func (m *MultiSink) RecordFleet(ev FleetEvent) error {
	var first error
	for _, s := range m.Sinks {
		if rec, ok := s.(FleetRecorder); ok {
			if err := rec.RecordFleet(ev); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

func (m *MultiSink) RecordLocation(ev LocationEvent) error {
	var first error
	for _, s := range m.Sinks {
		if rec, ok := s.(LocationRecorder); ok {
			if err := rec.RecordLocation(ev); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
