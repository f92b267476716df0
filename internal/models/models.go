package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TimeLayout is the fixed upstream timestamp format (DD/MM/YYYY HH:MM:SS).
const TimeLayout = "02/01/2006 15:04:05"

func init() {
	// Prices travel as bare JSON numbers on every topic.
	decimal.MarshalJSONWithoutQuotes = true
}

// Kind tags a record with its shape so receivers never have to guess.
type Kind string

const (
	KindPrice   Kind = "price"
	KindStation Kind = "station"
)

// Valid reports whether k is a known record kind.
func (k Kind) Valid() bool {
	return k == KindPrice || k == KindStation
}

// Wire field names shared by raw and cleaned payloads.
const (
	FieldStationCode = "stationcode"
	FieldFuelType    = "fueltype"
	FieldPrice       = "price"
	FieldLastUpdated = "lastupdated"

	FieldBrandID   = "brandid"
	FieldStationID = "stationid"
	FieldBrand     = "brand"
	FieldCode      = "code"
	FieldName      = "name"
	FieldAddress   = "address"
	FieldLatitude  = "location.latitude"
	FieldLongitude = "location.longitude"
)

// PriceFields lists the keys every price record must carry.
var PriceFields = []string{FieldStationCode, FieldFuelType, FieldPrice, FieldLastUpdated}

// StationFields lists the keys every station record must carry.
var StationFields = []string{
	FieldBrandID, FieldStationID, FieldBrand, FieldCode,
	FieldName, FieldAddress, FieldLatitude, FieldLongitude,
}

// PriceRecord is a cleaned fuel price observation.
type PriceRecord struct {
	StationCode string          `json:"stationcode"`
	FuelType    string          `json:"fueltype"`
	Price       decimal.Decimal `json:"price"`
	LastUpdated Timestamp       `json:"lastupdated"`
}

// StationRecord is a cleaned service station.
type StationRecord struct {
	BrandID   string  `json:"brandid"`
	StationID string  `json:"stationid"`
	Brand     string  `json:"brand"`
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"location.latitude"`
	Longitude float64 `json:"location.longitude"`
}

// RawRecord is one flattened upstream record. Values are kept as raw JSON
// so malformed input survives until validation.
type RawRecord map[string]json.RawMessage

// Snapshot is the result of one fetch cycle. It is never mutated after it
// has been stored.
type Snapshot struct {
	Prices    []RawRecord
	Stations  []RawRecord
	FetchedAt time.Time
}

// Timestamp marshals as a string in TimeLayout.
type Timestamp struct {
	time.Time
}

// ParseTimestamp parses s with TimeLayout.
func ParseTimestamp(s string) (Timestamp, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return Timestamp{}, err
	}
	return Timestamp{Time: t}, nil
}

// String formats the timestamp with TimeLayout.
func (t Timestamp) String() string {
	return t.Format(TimeLayout)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
