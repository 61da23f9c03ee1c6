package chat

import (
	"fmt"
	"sort"
	"strings"
)

// EmojiLike is the reaction the "popular" ordering counts.
const EmojiLike = "👍"

// maxNamedReactors is how many reactor names a summary spells out before
// collapsing the rest into "and N others".
const maxNamedReactors = 2

// emojiRank fixes the canonical emoji row order, so the UI renders reaction
// groups in a stable order across recomputations. Emoji outside this list
// sort after it, by codepoint.
var emojiRank = map[string]int{
	EmojiLike: 0,
	"👎":       1,
	"😄":       2,
	"😂":       3,
	"😮":       4,
	"❤️":      5,
	"🚀":       6,
}

// ReactionGroup is the derived per-emoji summary of a message's reactions.
// It is never persisted or patched incrementally; every mutation of the raw
// reaction list rebuilds all groups from scratch.
type ReactionGroup struct {
	Emoji     string
	Usernames []string
	Summary   string
	Reacted   bool // current user is among the reactors
}

// BuildReactionGroups folds a flat reaction list into per-emoji groups.
// Deterministic: the same reactions and currentUser produce byte-identical
// groups no matter how often it runs. Duplicate (user, emoji) pairs collapse,
// last write wins for the display name.
func BuildReactionGroups(reactions []Reaction, currentUser string) []ReactionGroup {
	type acc struct {
		order   []string          // user ids, first-seen order
		names   map[string]string // user id -> display name
		reacted bool
	}
	groups := make(map[string]*acc)
	var emojis []string

	for _, r := range reactions {
		g := groups[r.Emoji]
		if g == nil {
			g = &acc{names: make(map[string]string)}
			groups[r.Emoji] = g
			emojis = append(emojis, r.Emoji)
		}
		if _, seen := g.names[r.UserID]; !seen {
			g.order = append(g.order, r.UserID)
		}
		g.names[r.UserID] = r.Username
		if r.UserID == currentUser {
			g.reacted = true
		}
	}

	sort.SliceStable(emojis, func(i, j int) bool {
		ri, iKnown := emojiRank[emojis[i]]
		rj, jKnown := emojiRank[emojis[j]]
		switch {
		case iKnown && jKnown:
			return ri < rj
		case iKnown:
			return true
		case jKnown:
			return false
		}
		return emojis[i] < emojis[j]
	})

	out := make([]ReactionGroup, 0, len(emojis))
	for _, emoji := range emojis {
		g := groups[emoji]
		names := make([]string, 0, len(g.order))
		for _, uid := range g.order {
			names = append(names, g.names[uid])
		}
		out = append(out, ReactionGroup{
			Emoji:     emoji,
			Usernames: names,
			Summary:   reactionSummary(names, emoji),
			Reacted:   g.reacted,
		})
	}
	return out
}

// reactionSummary renders the human-readable line for one group.
func reactionSummary(names []string, emoji string) string {
	switch n := len(names); {
	case n == 0:
		return fmt.Sprintf("Nobody reacted with %s", emoji)
	case n == 1:
		return fmt.Sprintf("%s reacted with %s", names[0], emoji)
	case n <= maxNamedReactors:
		return fmt.Sprintf("%s and %s reacted with %s",
			strings.Join(names[:n-1], ", "), names[n-1], emoji)
	default:
		return fmt.Sprintf("%s and %d others reacted with %s",
			strings.Join(names[:maxNamedReactors], ", "), n-maxNamedReactors, emoji)
	}
}
