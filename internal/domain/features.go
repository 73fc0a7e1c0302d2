package domain

// FeatureRow is a listing row extended with the derived price-change columns.
type FeatureRow struct {
	Row         *ListingRow // source row, shared with the snapshot
	Index       int         // position of Row in the snapshot
	PriceChange *float64    // copy of percent_change_24h, NULL if missing
	ZScore      *float64    // standardised price change, NULL if undefined
}
