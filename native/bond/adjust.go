package bond

import "bdnprotocol/core/events"

// adjust moves the control variable one step toward the adjustment target
// once Buffer blocks have passed since the last step. It reports whether the
// control variable changed.
func adjust(st *State, now uint64, emitter events.Emitter) bool {
	adj := &st.Adjustment
	if !adj.Active || now < adj.LastBlock+adj.Buffer {
		return false
	}
	initial := st.Terms.ControlVariable
	current := initial
	if current < adj.Target {
		step := adj.Target - current
		if adj.Rate < step {
			step = adj.Rate
		}
		current += step
	} else {
		step := current - adj.Target
		if adj.Rate < step {
			step = adj.Rate
		}
		current -= step
	}
	st.Terms.ControlVariable = current
	adj.LastBlock = now
	if current == adj.Target {
		adj.Active = false
	}
	emitter.Emit(events.BondControlVariableAdjusted{
		Initial:  initial,
		Adjusted: current,
		Rate:     adj.Rate,
		Active:   adj.Active,
	})
	return initial != current
}
