package circuitbreaker

import "sort"

// Ranked returns stats for keys ordered closed circuits first, then by
// success rate, highest first. Equal entries keep their given order.
func (b *Breaker) Ranked(keys []string) []Stats {
	ranked := make([]Stats, 0, len(keys))
	for _, key := range keys {
		ranked = append(ranked, b.Stats(key))
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		iClosed := ranked[i].State == StateClosed.String()
		jClosed := ranked[j].State == StateClosed.String()
		if iClosed != jClosed {
			return iClosed
		}
		return ranked[i].SuccessRate > ranked[j].SuccessRate
	})
	return ranked
}
