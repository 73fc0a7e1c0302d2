package domain

import "time"

// ListingRow is one entity of a market listing, with its quote flattened
// for a single conversion currency.
type ListingRow struct {
	ID                int64              // provider entity id
	Name              string             // unique within a snapshot
	Symbol            string             // ticker symbol
	Rank              int                // provider rank, 0 if absent
	Price             float64            // quote price, >= 0
	Volume24h         *float64           // 24h traded volume, NULL if missing
	MarketCap         *float64           // market capitalisation, NULL if missing
	PercentChange24h  *float64           // signed 24h percent change, NULL if missing
	CirculatingSupply *float64           // circulating supply, NULL if missing
	Extra             map[string]float64 // remaining numeric quote fields by key
	Timestamp         time.Time          // capture time, shared by the snapshot
}

// Snapshot is an ordered, immutable set of listing rows captured from one
// provider response.
type Snapshot struct {
	ID         string        // deterministic id derived from capture time and body
	CapturedAt time.Time     // capture time attached to every row
	Currency   string        // conversion currency the quotes were flattened from
	Rows       []*ListingRow // rows in provider order
	Dropped    int           // malformed records skipped during ingestion
}

// Len returns the number of rows in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Rows)
}

// Index returns the position of the row with the given name, or -1.
func (s *Snapshot) Index(name string) int {
	if s == nil {
		return -1
	}
	for i, r := range s.Rows {
		if r.Name == name {
			return i
		}
	}
	return -1
}
