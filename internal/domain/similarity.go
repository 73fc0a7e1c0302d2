package domain

// Neighbor is a listing row ranked by similarity to a selected row.
type Neighbor struct {
	Name   string  `json:"name"`
	Symbol string  `json:"symbol"`
	Index  int     `json:"index"` // position in the snapshot
	Score  float64 `json:"score"` // cosine similarity in [-1, 1]
}
