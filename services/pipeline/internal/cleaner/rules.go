package cleaner

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
)

// Price bounds. A decimal keeps its exponent unexpanded, so 1e5000000 parses
// cheaply but serializes to megabytes; such values are rejected before that.
const (
	maxPriceIntegerDigits = 6
	maxPriceScale         = 18
)

// fields is the top-level view of a flattened record payload.
type fields map[string]gjson.Result

func parseObject(kind models.Kind, payload []byte) (fields, error) {
	if !gjson.ValidBytes(payload) {
		return nil, models.Reject(kind, "", models.ErrMalformed, "invalid JSON")
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return nil, models.Reject(kind, "", models.ErrMalformed, "not an object")
	}
	out := make(fields)
	root.ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value
		return true
	})
	return out, nil
}

func (f fields) require(kind models.Kind, keys []string) error {
	for _, key := range keys {
		if _, ok := f[key]; !ok {
			return models.Reject(kind, key, models.ErrMissingField, "")
		}
	}
	return nil
}

// rejectEmpty fails on any null or empty-string value, including keys that
// are not required.
func (f fields) rejectEmpty(kind models.Kind) error {
	for key, v := range f {
		if isEmpty(v) {
			return models.Reject(kind, key, models.ErrNullValue, "")
		}
	}
	return nil
}

func isEmpty(v gjson.Result) bool {
	return v.Type == gjson.Null || (v.Type == gjson.String && v.Str == "")
}

// text accepts strings and numbers; numbers keep their literal form.
func (f fields) text(kind models.Kind, key string) (string, error) {
	v := f[key]
	switch v.Type {
	case gjson.String:
		return v.Str, nil
	case gjson.Number:
		return v.Raw, nil
	default:
		return "", models.Reject(kind, key, models.ErrType, v.Type.String())
	}
}

func (f fields) str(kind models.Kind, key string) (string, error) {
	v := f[key]
	if v.Type != gjson.String {
		return "", models.Reject(kind, key, models.ErrType, v.Type.String())
	}
	return v.Str, nil
}

func (f fields) float(kind models.Kind, key string) (float64, error) {
	v := f[key]
	var raw string
	switch v.Type {
	case gjson.Number:
		raw = v.Raw
	case gjson.String:
		raw = strings.TrimSpace(v.Str)
	default:
		return 0, models.Reject(kind, key, models.ErrType, v.Type.String())
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, models.Reject(kind, key, models.ErrType, fmt.Sprintf("%q is not numeric", raw))
	}
	return n, nil
}

func (f fields) decimal(kind models.Kind, key string) (decimal.Decimal, error) {
	v := f[key]
	var raw string
	switch v.Type {
	case gjson.Number:
		raw = v.Raw
	case gjson.String:
		raw = strings.TrimSpace(v.Str)
	default:
		return decimal.Zero, models.Reject(kind, key, models.ErrType, v.Type.String())
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, models.Reject(kind, key, models.ErrType, fmt.Sprintf("%q is not numeric", raw))
	}
	return d, nil
}

// checkPriceBounds works on the coefficient and exponent only, never on the
// expanded value.
func checkPriceBounds(d decimal.Decimal) error {
	exp := int(d.Exponent())
	if d.NumDigits()+exp > maxPriceIntegerDigits {
		return models.Reject(models.KindPrice, models.FieldPrice, models.ErrInvalidValue,
			fmt.Sprintf("magnitude out of range (exponent %d)", exp))
	}
	if -exp > maxPriceScale {
		return models.Reject(models.KindPrice, models.FieldPrice, models.ErrInvalidValue,
			fmt.Sprintf("too many decimal places (exponent %d)", exp))
	}
	return nil
}

// CleanPrice validates and normalizes a raw price payload. keep is false
// for valid records that are filtered out (zero price); those are not errors.
func CleanPrice(payload []byte) (rec models.PriceRecord, keep bool, err error) {
	const kind = models.KindPrice

	f, err := parseObject(kind, payload)
	if err != nil {
		return rec, false, err
	}
	if err := f.require(kind, models.PriceFields); err != nil {
		return rec, false, err
	}
	if err := f.rejectEmpty(kind); err != nil {
		return rec, false, err
	}

	if rec.StationCode, err = f.text(kind, models.FieldStationCode); err != nil {
		return rec, false, err
	}
	if rec.FuelType, err = f.str(kind, models.FieldFuelType); err != nil {
		return rec, false, err
	}
	if rec.Price, err = f.decimal(kind, models.FieldPrice); err != nil {
		return rec, false, err
	}
	if rec.Price.IsZero() {
		return rec, false, nil
	}
	if rec.Price.IsNegative() {
		return rec, false, models.Reject(kind, models.FieldPrice, models.ErrInvalidValue, rec.Price.String())
	}
	if err := checkPriceBounds(rec.Price); err != nil {
		return rec, false, err
	}

	raw, err := f.str(kind, models.FieldLastUpdated)
	if err != nil {
		return rec, false, err
	}
	if rec.LastUpdated, err = models.ParseTimestamp(raw); err != nil {
		return rec, false, models.Reject(kind, models.FieldLastUpdated, models.ErrType, fmt.Sprintf("%q", raw))
	}
	return rec, true, nil
}

// CleanStation validates and normalizes a raw station payload. An empty
// brandid is backfilled from brand and an empty stationid from code.
func CleanStation(payload []byte) (rec models.StationRecord, err error) {
	const kind = models.KindStation

	f, err := parseObject(kind, payload)
	if err != nil {
		return rec, err
	}
	if err := f.require(kind, models.StationFields); err != nil {
		return rec, err
	}

	if v := f[models.FieldBrandID]; v.Type == gjson.String && v.Str == "" {
		f[models.FieldBrandID] = f[models.FieldBrand]
	}
	if v := f[models.FieldStationID]; v.Type == gjson.String && v.Str == "" {
		f[models.FieldStationID] = f[models.FieldCode]
	}
	if err := f.rejectEmpty(kind); err != nil {
		return rec, err
	}

	if rec.BrandID, err = f.text(kind, models.FieldBrandID); err != nil {
		return rec, err
	}
	if rec.StationID, err = f.text(kind, models.FieldStationID); err != nil {
		return rec, err
	}
	if rec.Brand, err = f.str(kind, models.FieldBrand); err != nil {
		return rec, err
	}
	if rec.Code, err = f.text(kind, models.FieldCode); err != nil {
		return rec, err
	}
	if rec.Name, err = f.str(kind, models.FieldName); err != nil {
		return rec, err
	}
	if rec.Address, err = f.str(kind, models.FieldAddress); err != nil {
		return rec, err
	}
	if rec.Latitude, err = f.float(kind, models.FieldLatitude); err != nil {
		return rec, err
	}
	if rec.Longitude, err = f.float(kind, models.FieldLongitude); err != nil {
		return rec, err
	}
	return rec, nil
}
