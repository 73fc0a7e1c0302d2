package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-insight-lab/internal/domain"
	"market-insight-lab/internal/idhash"
)

// DefaultCurrency is the quote currency flattened when none is given.
const DefaultCurrency = "USD"

// Quote fields promoted to dedicated ListingRow fields.
const (
	fieldPrice            = "price"
	fieldVolume24h        = "volume_24h"
	fieldMarketCap        = "market_cap"
	fieldPercentChange24h = "percent_change_24h"
)

// Options controls how a raw listing body becomes a snapshot.
type Options struct {
	Currency   string          // quote currency to flatten, DefaultCurrency if empty
	CapturedAt time.Time       // attached to every row, time.Now().UTC() if zero
	Logger     *zerolog.Logger // debug line per dropped record, optional; callers log the total
}

type rawResponse struct {
	Status *rawStatus      `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type rawStatus struct {
	ErrorCode    int     `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
}

var errNotNumeric = errors.New("not numeric")

// Ingest normalizes a raw listing body into a snapshot.
//
// The body must be a JSON object whose "data" field is an array of records.
// Each record's quote.<currency> object is flattened into the row. Records
// that are malformed are dropped and counted in Snapshot.Dropped; they never
// abort the snapshot. Structural failures return *IngestError and no snapshot.
func Ingest(raw []byte, opts Options) (*domain.Snapshot, error) {
	currency := strings.ToUpper(strings.TrimSpace(opts.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	capturedAt := opts.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}

	var resp rawResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &IngestError{Reason: "malformed listing body", Err: err}
	}

	if resp.Status != nil && resp.Status.ErrorCode != 0 {
		msg := fmt.Sprintf("provider error code %d", resp.Status.ErrorCode)
		if resp.Status.ErrorMessage != nil && *resp.Status.ErrorMessage != "" {
			msg = *resp.Status.ErrorMessage
		}
		return nil, &IngestError{Reason: "provider rejected request", Err: errors.New(msg)}
	}

	data := bytes.TrimSpace(resp.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, &IngestError{Reason: "missing data array"}
	}
	if data[0] != '[' {
		return nil, &IngestError{Reason: "data field is not an array"}
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &IngestError{Reason: "malformed data array", Err: err}
	}

	snapshot := &domain.Snapshot{
		ID:         idhash.ComputeSnapshotID(capturedAt, currency, raw),
		CapturedAt: capturedAt,
		Currency:   currency,
		Rows:       make([]*domain.ListingRow, 0, len(records)),
	}

	seen := make(map[string]struct{}, len(records))
	for i, rec := range records {
		row, err := parseRecord(rec, currency)
		if err == nil {
			if _, dup := seen[row.Name]; dup {
				err = fmt.Errorf("duplicate name %q", row.Name)
			}
		}
		if err != nil {
			snapshot.Dropped++
			if opts.Logger != nil {
				opts.Logger.Debug().Int("record", i).Err(err).Msg("dropping listing record")
			}
			continue
		}

		seen[row.Name] = struct{}{}
		row.Timestamp = capturedAt
		snapshot.Rows = append(snapshot.Rows, row)
	}

	return snapshot, nil
}

// parseRecord flattens one record. Returns an error if the record must be dropped.
func parseRecord(rec json.RawMessage, currency string) (*domain.ListingRow, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rec, &fields); err != nil {
		return nil, fmt.Errorf("record is not an object: %w", err)
	}

	row := &domain.ListingRow{}

	if err := parseString(fields["name"], &row.Name); err != nil || row.Name == "" {
		return nil, errors.New("missing name")
	}
	if err := parseString(fields["symbol"], &row.Symbol); err != nil {
		return nil, fmt.Errorf("symbol: %w", err)
	}

	if id, err := parseNumber(fields["id"]); err != nil {
		return nil, fmt.Errorf("id: %w", err)
	} else if id != nil {
		row.ID = int64(*id)
	}
	if rank, err := parseNumber(fields["cmc_rank"]); err != nil {
		return nil, fmt.Errorf("cmc_rank: %w", err)
	} else if rank != nil {
		row.Rank = int(*rank)
	}
	supply, err := parseNumber(fields["circulating_supply"])
	if err != nil {
		return nil, fmt.Errorf("circulating_supply: %w", err)
	}
	row.CirculatingSupply = supply

	var quotes map[string]map[string]json.RawMessage
	if raw, ok := fields["quote"]; !ok || json.Unmarshal(raw, &quotes) != nil {
		return nil, errors.New("missing or malformed quote")
	}
	quote, ok := quotes[currency]
	if !ok {
		return nil, fmt.Errorf("no %s quote", currency)
	}

	price, err := parseNumber(quote[fieldPrice])
	if err != nil || price == nil {
		return nil, errors.New("missing or non-numeric price")
	}
	if *price < 0 {
		return nil, errors.New("negative price")
	}
	row.Price = *price

	if row.Volume24h, err = parseNonNegative(quote[fieldVolume24h]); err != nil {
		return nil, fmt.Errorf("volume_24h: %w", err)
	}
	if row.MarketCap, err = parseNonNegative(quote[fieldMarketCap]); err != nil {
		return nil, fmt.Errorf("market_cap: %w", err)
	}
	if row.PercentChange24h, err = parseNumber(quote[fieldPercentChange24h]); err != nil {
		return nil, fmt.Errorf("percent_change_24h: %w", err)
	}

	// Remaining numeric quote fields are flattened by key; non-numeric ones
	// such as last_updated are ignored.
	for key, raw := range quote {
		switch key {
		case fieldPrice, fieldVolume24h, fieldMarketCap, fieldPercentChange24h:
			continue
		}
		v, err := parseNumber(raw)
		if err != nil || v == nil {
			continue
		}
		if row.Extra == nil {
			row.Extra = make(map[string]float64)
		}
		row.Extra[key] = *v
	}

	return row, nil
}

func parseString(raw json.RawMessage, dst *string) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// parseNumber returns nil for an absent or null value.
func parseNumber(raw json.RawMessage) (*float64, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errNotNumeric
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, errNotNumeric
	}
	return &v, nil
}

func parseNonNegative(raw json.RawMessage) (*float64, error) {
	v, err := parseNumber(raw)
	if err != nil {
		return nil, err
	}
	if v != nil && *v < 0 {
		return nil, errors.New("negative value")
	}
	return v, nil
}
