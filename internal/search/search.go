package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Collection  string `json:"collection"`
	HouseholdID string `json:"householdId"`
	Status      string `json:"status"`
}

// Query describes a search request.
type Query struct {
	Text             string
	FilterHousehold  string
	FilterCollection string // empty = all collections
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over synced items.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ItemRecord is the data we index for one item of any collection.
type ItemRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Collection  string `json:"collection"`
	HouseholdID string `json:"householdId"`
	Status      string `json:"status"`
}
