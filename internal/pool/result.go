package pool

import "time"

// Entry is a labelled, display-formatted value.
type Entry struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Result is the display-ready statistics record for one pool and account.
type Result struct {
	Key         string   `json:"key"`
	Provider    string   `json:"provider"`
	Name        string   `json:"name"`
	PoolRewards []string `json:"poolRewards"`
	APR         string   `json:"apr"`
	Prices      []Entry  `json:"prices"`
	Staking     []Entry  `json:"staking"`
	Rewards     []Entry  `json:"rewards"`
	ROIs        []Entry  `json:"ROIs"`
	Links       []Link   `json:"links"`

	Account   string    `json:"account"`
	FetchedAt time.Time `json:"fetchedAt"`

	// Metrics holds the unformatted numbers behind the display strings. They
	// may be NaN or infinite, which encoding/json cannot represent.
	Metrics Metrics `json:"-"`
}
