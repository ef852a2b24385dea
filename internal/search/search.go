package search

// Result is a single lead hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Status     string `json:"status"`
	OwnerID    string `json:"ownerId"`
	OwnerName  string `json:"ownerName"`
	CompanyID  string `json:"companyId"`
	IsPriority bool   `json:"isPriority"`
}

// Query describes a search request. CompanyID and OwnerIDs narrow the hits
// to what the caller is allowed to see; both empty means unrestricted.
type Query struct {
	Text      string
	CompanyID string
	OwnerIDs  []string
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a lead search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push leads into a search index.
type Indexer interface {
	IndexLead(lead LeadRecord) error
	DeleteLead(id string) error
}

// LeadRecord is the data we index for a lead.
type LeadRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email,omitempty"`
	Status     string `json:"status"`
	Notes      string `json:"notes,omitempty"`
	OwnerID    string `json:"ownerId"`
	OwnerName  string `json:"ownerName"`
	CompanyID  string `json:"companyId"`
	IsPriority bool   `json:"isPriority"`
}
