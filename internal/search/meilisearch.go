package search

import (
	"encoding/json"
	"strconv"

	"github.com/meilisearch/meilisearch-go"

	"property-swipe/internal/models"
)

type SearchClient struct {
	client *meilisearch.Client
	index  string
}

func NewSearchClient(host, apiKey string) *SearchClient {
	client := meilisearch.NewClient(meilisearch.ClientConfig{
		Host:   host,
		APIKey: apiKey,
	})

	return &SearchClient{
		client: client,
		index:  "listings",
	}
}

// InitIndex initializes the Meilisearch index
func (s *SearchClient) InitIndex() error {
	// Create index if it doesn't exist
	_, err := s.client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        s.index,
		PrimaryKey: "id",
	})
	// Ignore error if index already exists
	if err != nil && err.Error() != "index already exists" {
		return err
	}

	_, err = s.client.Index(s.index).UpdateSearchableAttributes(&[]string{
		"summary",
		"description",
		"locality",
		"features",
	})
	if err != nil {
		return err
	}

	_, err = s.client.Index(s.index).UpdateFilterableAttributes(&[]string{
		"id",
		"removed",
		"locality",
		"price",
		"bed_count",
		"transit_minutes",
	})
	if err != nil {
		return err
	}

	_, err = s.client.Index(s.index).UpdateSortableAttributes(&[]string{
		"price",
		"transit_minutes",
		"cycling_minutes",
		"inserted_at",
	})
	return err
}

// IndexListings indexes multiple listings
func (s *SearchClient) IndexListings(listings []*models.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	docs := make([]models.Listing, len(listings))
	for i, l := range listings {
		docs[i] = *l
	}
	_, err := s.client.Index(s.index).AddDocuments(docs)
	return err
}

// DeleteListings removes listings from the index
func (s *SearchClient) DeleteListings(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	docIDs := make([]string, len(ids))
	for i, id := range ids {
		docIDs[i] = strconv.FormatInt(id, 10)
	}
	_, err := s.client.Index(s.index).DeleteDocuments(docIDs)
	return err
}

// SearchRequest represents search parameters
type SearchRequest struct {
	Query  string
	Limit  int64
	Offset int64
	Filter []string
	Sort   []string
}

// SearchResult represents search results
type SearchResult struct {
	Hits           []models.Listing
	TotalHits      int64
	ProcessingTime int64
}

// Search searches for listings
func (s *SearchClient) Search(req SearchRequest) (*SearchResult, error) {
	if req.Limit == 0 {
		req.Limit = 20
	}

	searchReq := &meilisearch.SearchRequest{
		Limit:  req.Limit,
		Offset: req.Offset,
	}

	if len(req.Filter) > 0 {
		filterStr := ""
		for i, f := range req.Filter {
			if i > 0 {
				filterStr += " AND "
			}
			filterStr += f
		}
		searchReq.Filter = filterStr
	}
	if len(req.Sort) > 0 {
		searchReq.Sort = req.Sort
	}

	searchRes, err := s.client.Index(s.index).Search(req.Query, searchReq)
	if err != nil {
		return nil, err
	}

	// Round-trip hits through JSON rather than hand-walking the maps; the
	// listing's JSON tags already describe the document shape.
	listings := make([]models.Listing, 0, len(searchRes.Hits))
	for _, hit := range searchRes.Hits {
		raw, err := json.Marshal(hit)
		if err != nil {
			continue
		}
		var listing models.Listing
		if err := json.Unmarshal(raw, &listing); err != nil {
			continue
		}
		listings = append(listings, listing)
	}

	return &SearchResult{
		Hits:           listings,
		TotalHits:      searchRes.EstimatedTotalHits,
		ProcessingTime: searchRes.ProcessingTimeMs,
	}, nil
}
