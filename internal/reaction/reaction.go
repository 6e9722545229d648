// Package reaction applies per-user emoji reactions to comments. Every
// function returns a new slice and leaves its input untouched.
package reaction

import (
	"strings"

	"linear/api/internal/model"
)

// Has reports whether user has reacted with emoji.
func Has(reactions []model.Reaction, emoji, user string) bool {
	user = model.NormalizeRef(user).String()
	for _, r := range reactions {
		if r.Emoji != emoji {
			continue
		}
		for _, u := range r.Users {
			if u.String() == user {
				return true
			}
		}
	}
	return false
}

// Add records user under emoji, creating the entry if needed.
func Add(reactions []model.Reaction, emoji, user string) []model.Reaction {
	ref := model.NormalizeRef(user)
	out := clone(reactions)
	if ref.IsZero() || strings.TrimSpace(emoji) == "" || Has(out, emoji, user) {
		return out
	}
	for i := range out {
		if out[i].Emoji == emoji {
			out[i].Users = append(out[i].Users, ref)
			return out
		}
	}
	return append(out, model.Reaction{Emoji: emoji, Users: model.Refs{ref}})
}

// Remove drops user from emoji and deletes the entry once nobody is left.
func Remove(reactions []model.Reaction, emoji, user string) []model.Reaction {
	ref := model.NormalizeRef(user)
	out := make([]model.Reaction, 0, len(reactions))
	for _, r := range clone(reactions) {
		if r.Emoji == emoji {
			kept := r.Users[:0]
			for _, u := range r.Users {
				if u != ref {
					kept = append(kept, u)
				}
			}
			if len(kept) == 0 {
				continue
			}
			r.Users = kept
		}
		out = append(out, r)
	}
	return out
}

// Toggle removes the reaction when present and adds it otherwise, so two
// identical toggles cancel out.
func Toggle(reactions []model.Reaction, emoji, user string) []model.Reaction {
	if Has(reactions, emoji, user) {
		return Remove(reactions, emoji, user)
	}
	return Add(reactions, emoji, user)
}

// ToggleComment returns c with Toggle applied to its reactions.
func ToggleComment(c model.Comment, emoji, user string) model.Comment {
	c.Reactions = Toggle(c.Reactions, emoji, user)
	return c
}

// Summary is one emoji's tally as seen by a viewer.
type Summary struct {
	Emoji   string `json:"emoji"`
	Count   int    `json:"count"`
	Reacted bool   `json:"reacted"`
}

// Summarize tallies reactions in entry order, skipping empty entries.
func Summarize(reactions []model.Reaction, viewer string) []Summary {
	viewerRef := model.NormalizeRef(viewer)
	out := make([]Summary, 0, len(reactions))
	for _, r := range reactions {
		if len(r.Users) == 0 {
			continue
		}
		s := Summary{Emoji: r.Emoji, Count: len(r.Users)}
		for _, u := range r.Users {
			if !viewerRef.IsZero() && u == viewerRef {
				s.Reacted = true
				break
			}
		}
		out = append(out, s)
	}
	return out
}

func clone(reactions []model.Reaction) []model.Reaction {
	out := make([]model.Reaction, len(reactions))
	for i, r := range reactions {
		out[i] = model.Reaction{Emoji: r.Emoji, Users: append(model.Refs(nil), r.Users...)}
	}
	return out
}
