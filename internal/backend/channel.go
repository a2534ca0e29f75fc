// file: internal/backend/channel.go
package backend

import "sort"

// Channel statuses.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusError        = "error"
)

// Channel is one linked communication account as stored by the backend.
type Channel struct {
	ID                string  `json:"id"`
	ChannelType       string  `json:"channel_type"`
	ExternalAccountID *string `json:"external_account_id"`
	Status            string  `json:"status"`
	Priority          *int    `json:"priority"`
}

// Connected reports whether the channel status is connected.
func (c Channel) Connected() bool {
	return c.Status == StatusConnected
}

// HasConnected reports whether channels contains a connected channel of the
// provider's channel type.
func HasConnected(channels []Channel, p Provider) bool {
	want := p.ChannelType()
	for _, c := range channels {
		if c.ChannelType == want && c.Connected() {
			return true
		}
	}
	return false
}

// SortByPriority orders channels by ascending priority; channels without a
// priority sort last. The sort is stable.
func SortByPriority(channels []Channel) {
	sort.SliceStable(channels, func(i, j int) bool {
		pi, pj := channels[i].Priority, channels[j].Priority
		switch {
		case pi == nil:
			return false
		case pj == nil:
			return true
		default:
			return *pi < *pj
		}
	})
}
