package chat

import "sort"

// SortMode selects the read-time ordering of the transcript. Nothing is
// reordered in storage; ordering is computed per read.
type SortMode int

const (
	// SortLive orders by id ascending, i.e. server arrival order.
	SortLive SortMode = iota

	// SortPopular orders by like count descending; among equally liked
	// messages the newer id wins.
	SortPopular
)

func sortMessages(msgs []*Message, mode SortMode) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if mode == SortPopular {
			la, lb := a.LikeCount(), b.LikeCount()
			if la != lb {
				return la > lb
			}
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
}
