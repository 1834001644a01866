// Package conversations computes the "list conversations" view: every
// counterpart with their unread badge and online flag. Counts are derived
// from the message store on every call; there is no cached counter that can
// drift. The badge only clears after the caller marks the conversation seen.
package conversations

import (
	"fmt"
	"sort"

	"quickchat/internal/models"

	"github.com/samber/lo"
)

type UserDirectory interface {
	ListUsers() []models.User
}

type UnseenCounter interface {
	UnseenCounts(viewerID string) (map[string]int, error)
}

type PresenceSource interface {
	IsOnline(userID string) bool
}

type Summary struct {
	User        models.User `json:"user"`
	UnseenCount int         `json:"unseenCount"`
	Online      bool        `json:"online"`
}

type Aggregator struct {
	users    UserDirectory
	counts   UnseenCounter
	presence PresenceSource
}

func NewAggregator(users UserDirectory, counts UnseenCounter, presence PresenceSource) *Aggregator {
	return &Aggregator{users: users, counts: counts, presence: presence}
}

// ListWithUnseen returns every counterpart of the viewer ordered by display
// name, with the count of messages from them the viewer has not seen yet.
func (a *Aggregator) ListWithUnseen(viewerID string) ([]Summary, error) {
	unseen, err := a.counts.UnseenCounts(viewerID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate unseen counts: %w", err)
	}

	others := lo.Filter(a.users.ListUsers(), func(u models.User, _ int) bool {
		return u.ID != viewerID
	})

	summaries := lo.Map(others, func(u models.User, _ int) Summary {
		return Summary{
			User:        u,
			UnseenCount: unseen[u.ID],
			Online:      a.presence.IsOnline(u.ID),
		}
	})

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].User.DisplayName != summaries[j].User.DisplayName {
			return summaries[i].User.DisplayName < summaries[j].User.DisplayName
		}
		return summaries[i].User.UserName < summaries[j].User.UserName
	})

	return summaries, nil
}
