package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxLeads = "brokerhub_leads"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the leads index.
// An unreachable Meilisearch is tolerated; the health loop picks it up
// when it comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxLeads,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxLeads, err)
	}

	index := m.client.Index(idxLeads)
	filterable := []interface{}{"companyId", "ownerId", "status"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxLeads, err)
	}
	searchable := []string{"name", "phone", "email", "notes"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxLeads, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the leads index with the caller's scope as filters.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		Limit:  limit,
		Offset: int64(q.Offset),
	}

	var filters []string
	if q.CompanyID != "" {
		filters = append(filters, fmt.Sprintf("companyId = %q", q.CompanyID))
	}
	if len(q.OwnerIDs) > 0 {
		quoted := make([]string, len(q.OwnerIDs))
		for i, id := range q.OwnerIDs {
			quoted[i] = fmt.Sprintf("%q", id)
		}
		filters = append(filters, fmt.Sprintf("ownerId IN [%s]", strings.Join(quoted, ", ")))
	}
	if len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.Index(idxLeads).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:         decodeString(hit, "id"),
		Name:       decodeString(hit, "name"),
		Phone:      decodeString(hit, "phone"),
		Status:     decodeString(hit, "status"),
		OwnerID:    decodeString(hit, "ownerId"),
		OwnerName:  decodeString(hit, "ownerName"),
		CompanyID:  decodeString(hit, "companyId"),
		IsPriority: decodeBool(hit, "isPriority"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeBool(hit meili.Hit, key string) bool {
	raw, ok := hit[key]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	return false
}

// IndexLead adds or updates a lead in the search index.
func (m *Meili) IndexLead(lead LeadRecord) error {
	_, err := m.client.Index(idxLeads).AddDocuments([]LeadRecord{lead}, nil)
	return err
}

// IndexLeads bulk-indexes leads.
func (m *Meili) IndexLeads(leads []LeadRecord) error {
	if len(leads) == 0 {
		return nil
	}
	_, err := m.client.Index(idxLeads).AddDocuments(leads, nil)
	return err
}

// DeleteLead removes a lead from the search index.
func (m *Meili) DeleteLead(id string) error {
	_, err := m.client.Index(idxLeads).DeleteDocument(id, nil)
	return err
}
