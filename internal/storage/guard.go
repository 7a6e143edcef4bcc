package storage

// DefaultGuardThreshold is the stored length above which a value counts as real data.
// "[]" and similar noise stay below it.
const DefaultGuardThreshold = 20

// Guard refuses to replace a non-trivial stored value with an empty collection,
// so a transient read failure that produced an empty list cannot wipe durable data.
//
// It is a heuristic. A legitimate bulk delete down to zero records is also
// refused (use Collection.Clear for that), and collections whose serialised
// form is at or under Threshold get no protection.
type Guard struct {
	Threshold int
}

// ShouldWrite reports whether newCount records may replace currentRaw.
func (g Guard) ShouldWrite(currentRaw string, newCount int) bool {
	if newCount > 0 {
		return true
	}
	return len(currentRaw) <= g.Threshold
}
