package db

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// PriceQuery filters the price history of one station.
type PriceQuery struct {
	StationCode string
	FuelType    string
	Since       *time.Time
	Until       *time.Time
	Limit       int
}

// PriceHistory returns stored prices for a station, newest first.
func (s *Store) PriceHistory(ctx context.Context, q PriceQuery) ([]Price, error) {
	conditions := []string{"stationcode = $1"}
	args := []any{q.StationCode}

	if q.FuelType != "" {
		conditions = append(conditions, "fueltype = $"+strconv.Itoa(len(args)+1))
		args = append(args, q.FuelType)
	}
	if q.Since != nil {
		conditions = append(conditions, "lastupdated >= $"+strconv.Itoa(len(args)+1))
		args = append(args, *q.Since)
	}
	if q.Until != nil {
		conditions = append(conditions, "lastupdated <= $"+strconv.Itoa(len(args)+1))
		args = append(args, *q.Until)
	}

	query := strings.Builder{}
	query.WriteString("SELECT id, stationcode, fueltype, price::text, lastupdated FROM prices ")
	query.WriteString("WHERE " + strings.Join(conditions, " AND ") + " ")
	query.WriteString("ORDER BY lastupdated DESC, id DESC")
	if q.Limit > 0 {
		query.WriteString(" LIMIT $" + strconv.Itoa(len(args)+1))
		args = append(args, q.Limit)
	}

	rows, err := s.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPrices(rows)
}
