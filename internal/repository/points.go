package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gridscan/internal/models"

	"github.com/jackc/pgx/v5"
)

const loadPointColumns = `timestamp, area_code, data_type, business_type, quantity, unit, data_source,
	document_mrid, revision_number, document_created_at, time_series_mrid, resolution,
	curve_type, object_aggregation, position, period_start, period_end, created_at, updated_at`

const pricePointColumns = `timestamp, area_code, data_type, business_type, price_amount, currency_unit_name,
	price_measure_unit_name, auction_type, contract_market_agreement_type, data_source,
	document_mrid, revision_number, document_created_at, time_series_mrid, resolution,
	curve_type, position, period_start, period_end, created_at, updated_at`

// UpsertLoadPoints atomically insert-or-replaces a batch keyed by the
// composite key. All non-key columns are updated on conflict; the whole batch
// rolls back on any failure.
func (r *Repository) UpsertLoadPoints(ctx context.Context, points []models.EnergyDataPoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return &StoreError{Model: "energy_data_point", Op: "upsert_batch", BatchSize: len(points), Err: err}
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, p := range points {
		_, err := tx.Exec(ctx, `
			INSERT INTO energy_data_points (`+loadPointColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			ON CONFLICT (timestamp, area_code, data_type, business_type) DO UPDATE SET
				quantity = EXCLUDED.quantity,
				unit = EXCLUDED.unit,
				data_source = EXCLUDED.data_source,
				document_mrid = EXCLUDED.document_mrid,
				revision_number = EXCLUDED.revision_number,
				document_created_at = EXCLUDED.document_created_at,
				time_series_mrid = EXCLUDED.time_series_mrid,
				resolution = EXCLUDED.resolution,
				curve_type = EXCLUDED.curve_type,
				object_aggregation = EXCLUDED.object_aggregation,
				position = EXCLUDED.position,
				period_start = EXCLUDED.period_start,
				period_end = EXCLUDED.period_end,
				updated_at = EXCLUDED.updated_at`,
			p.Timestamp, p.AreaCode, p.DataType, p.BusinessType, p.Quantity, p.Unit, p.DataSource,
			p.DocumentMRID, p.RevisionNumber, p.DocumentCreatedAt, p.TimeSeriesMRID, p.Resolution,
			p.CurveType, p.ObjectAggregation, p.Position, p.PeriodStart, p.PeriodEnd, now, now,
		)
		if err != nil {
			return &StoreError{Model: "energy_data_point", Op: "upsert_batch", BatchSize: len(points), Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &StoreError{Model: "energy_data_point", Op: "upsert_batch", BatchSize: len(points), Err: err}
	}
	return nil
}

// UpsertPricePoints is the price-table counterpart of UpsertLoadPoints.
func (r *Repository) UpsertPricePoints(ctx context.Context, points []models.EnergyPricePoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return &StoreError{Model: "energy_price_point", Op: "upsert_batch", BatchSize: len(points), Err: err}
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, p := range points {
		_, err := tx.Exec(ctx, `
			INSERT INTO energy_price_points (`+pricePointColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
			ON CONFLICT (timestamp, area_code, data_type, business_type) DO UPDATE SET
				price_amount = EXCLUDED.price_amount,
				currency_unit_name = EXCLUDED.currency_unit_name,
				price_measure_unit_name = EXCLUDED.price_measure_unit_name,
				auction_type = EXCLUDED.auction_type,
				contract_market_agreement_type = EXCLUDED.contract_market_agreement_type,
				data_source = EXCLUDED.data_source,
				document_mrid = EXCLUDED.document_mrid,
				revision_number = EXCLUDED.revision_number,
				document_created_at = EXCLUDED.document_created_at,
				time_series_mrid = EXCLUDED.time_series_mrid,
				resolution = EXCLUDED.resolution,
				curve_type = EXCLUDED.curve_type,
				position = EXCLUDED.position,
				period_start = EXCLUDED.period_start,
				period_end = EXCLUDED.period_end,
				updated_at = EXCLUDED.updated_at`,
			p.Timestamp, p.AreaCode, p.DataType, p.BusinessType, p.PriceAmount, p.CurrencyUnitName,
			p.PriceMeasureUnitName, nullIfEmpty(p.AuctionType), nullIfEmpty(p.ContractMarketAgreementType), p.DataSource,
			p.DocumentMRID, p.RevisionNumber, p.DocumentCreatedAt, p.TimeSeriesMRID, p.Resolution,
			nullIfEmpty(p.CurveType), p.Position, p.PeriodStart, p.PeriodEnd, now, now,
		)
		if err != nil {
			return &StoreError{Model: "energy_price_point", Op: "upsert_batch", BatchSize: len(points), Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &StoreError{Model: "energy_price_point", Op: "upsert_batch", BatchSize: len(points), Err: err}
	}
	return nil
}

// PointFilter narrows time-range queries. Nil/empty slices mean "no filter".
type PointFilter struct {
	Areas         []string
	DataTypes     []models.EnergyDataType
	BusinessTypes []string
}

// GetLoadPointsByTimeRange returns load points in [start, end) ascending by
// timestamp.
func (r *Repository) GetLoadPointsByTimeRange(ctx context.Context, start, end time.Time, filter PointFilter) ([]models.EnergyDataPoint, error) {
	where, args := rangeFilterClause(start, end, filter)
	rows, err := r.db.Query(ctx, `
		SELECT `+loadPointColumns+`
		FROM energy_data_points
		`+where+`
		ORDER BY timestamp ASC`, args...)
	if err != nil {
		return nil, &StoreError{Model: "energy_data_point", Op: "get_by_time_range", Err: err}
	}
	defer rows.Close()
	return scanLoadPoints(rows)
}

// GetPricePointsByTimeRange returns price points in [start, end) ascending.
func (r *Repository) GetPricePointsByTimeRange(ctx context.Context, start, end time.Time, filter PointFilter) ([]models.EnergyPricePoint, error) {
	where, args := rangeFilterClause(start, end, filter)
	rows, err := r.db.Query(ctx, `
		SELECT `+pricePointColumns+`
		FROM energy_price_points
		`+where+`
		ORDER BY timestamp ASC`, args...)
	if err != nil {
		return nil, &StoreError{Model: "energy_price_point", Op: "get_by_time_range", Err: err}
	}
	defer rows.Close()
	return scanPricePoints(rows)
}

// GetLatestForAreaAndType returns the newest load point for (area, data type),
// deliberately ignoring business type: the upstream may alternate business
// types on the same slice and gap detection must not be blinded by that.
// Returns nil when the store holds nothing for the pair.
func (r *Repository) GetLatestForAreaAndType(ctx context.Context, area string, dataType models.EnergyDataType) (*models.EnergyDataPoint, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+loadPointColumns+`
		FROM energy_data_points
		WHERE area_code = $1 AND data_type = $2
		ORDER BY timestamp DESC
		LIMIT 1`, area, dataType)
	p, err := scanLoadPoint(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Model: "energy_data_point", Op: "get_latest", Err: err}
	}
	return p, nil
}

// GetLatestPriceForAreaAndType is the price-table twin of GetLatestForAreaAndType.
func (r *Repository) GetLatestPriceForAreaAndType(ctx context.Context, area string, dataType models.EnergyDataType) (*models.EnergyPricePoint, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+pricePointColumns+`
		FROM energy_price_points
		WHERE area_code = $1 AND data_type = $2
		ORDER BY timestamp DESC
		LIMIT 1`, area, dataType)
	p, err := scanPricePoint(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Model: "energy_price_point", Op: "get_latest", Err: err}
	}
	return p, nil
}

// GetLoadPointsByArea lists load points for an area, newest first. dataType
// is optional; limit <= 0 defaults to 100.
func (r *Repository) GetLoadPointsByArea(ctx context.Context, area string, dataType models.EnergyDataType, limit int) ([]models.EnergyDataPoint, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows pgx.Rows
		err  error
	)
	if dataType != "" {
		rows, err = r.db.Query(ctx, `
			SELECT `+loadPointColumns+`
			FROM energy_data_points
			WHERE area_code = $1 AND data_type = $2
			ORDER BY timestamp DESC
			LIMIT $3`, area, dataType, limit)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT `+loadPointColumns+`
			FROM energy_data_points
			WHERE area_code = $1
			ORDER BY timestamp DESC
			LIMIT $2`, area, limit)
	}
	if err != nil {
		return nil, &StoreError{Model: "energy_data_point", Op: "get_by_area", Err: err}
	}
	defer rows.Close()
	return scanLoadPoints(rows)
}

// GetLoadPoint fetches one load point by its composite key.
func (r *Repository) GetLoadPoint(ctx context.Context, key models.PointKey) (*models.EnergyDataPoint, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+loadPointColumns+`
		FROM energy_data_points
		WHERE timestamp = $1 AND area_code = $2 AND data_type = $3 AND business_type = $4`,
		key.Timestamp, key.AreaCode, key.DataType, key.BusinessType)
	p, err := scanLoadPoint(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Model: "energy_data_point", Op: "get_by_id", Err: err}
	}
	return p, nil
}

// DeleteLoadPoint removes one load point; reports whether a row existed.
func (r *Repository) DeleteLoadPoint(ctx context.Context, key models.PointKey) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM energy_data_points
		WHERE timestamp = $1 AND area_code = $2 AND data_type = $3 AND business_type = $4`,
		key.Timestamp, key.AreaCode, key.DataType, key.BusinessType)
	if err != nil {
		return false, &StoreError{Model: "energy_data_point", Op: "delete", Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

// GetPricePointsByArea lists price points for an area, newest first. dataType
// is optional; limit <= 0 defaults to 100.
func (r *Repository) GetPricePointsByArea(ctx context.Context, area string, dataType models.EnergyDataType, limit int) ([]models.EnergyPricePoint, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows pgx.Rows
		err  error
	)
	if dataType != "" {
		rows, err = r.db.Query(ctx, `
			SELECT `+pricePointColumns+`
			FROM energy_price_points
			WHERE area_code = $1 AND data_type = $2
			ORDER BY timestamp DESC
			LIMIT $3`, area, dataType, limit)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT `+pricePointColumns+`
			FROM energy_price_points
			WHERE area_code = $1
			ORDER BY timestamp DESC
			LIMIT $2`, area, limit)
	}
	if err != nil {
		return nil, &StoreError{Model: "energy_price_point", Op: "get_by_area", Err: err}
	}
	defer rows.Close()
	return scanPricePoints(rows)
}

// GetPricePoint fetches one price point by its composite key.
func (r *Repository) GetPricePoint(ctx context.Context, key models.PointKey) (*models.EnergyPricePoint, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+pricePointColumns+`
		FROM energy_price_points
		WHERE timestamp = $1 AND area_code = $2 AND data_type = $3 AND business_type = $4`,
		key.Timestamp, key.AreaCode, key.DataType, key.BusinessType)
	p, err := scanPricePoint(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Model: "energy_price_point", Op: "get_by_id", Err: err}
	}
	return p, nil
}

// DeletePricePoint removes one price point; reports whether a row existed.
func (r *Repository) DeletePricePoint(ctx context.Context, key models.PointKey) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM energy_price_points
		WHERE timestamp = $1 AND area_code = $2 AND data_type = $3 AND business_type = $4`,
		key.Timestamp, key.AreaCode, key.DataType, key.BusinessType)
	if err != nil {
		return false, &StoreError{Model: "energy_price_point", Op: "delete", Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

// CountLoadPoints counts load points for coverage analysis.
func (r *Repository) CountLoadPoints(ctx context.Context, area string, dataType models.EnergyDataType, start, end time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM energy_data_points
		WHERE area_code = $1 AND data_type = $2 AND timestamp >= $3 AND timestamp < $4`,
		area, dataType, start, end).Scan(&n)
	if err != nil {
		return 0, &StoreError{Model: "energy_data_point", Op: "count", Err: err}
	}
	return n, nil
}

// CountPricePoints counts price points for coverage analysis.
func (r *Repository) CountPricePoints(ctx context.Context, area string, dataType models.EnergyDataType, start, end time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM energy_price_points
		WHERE area_code = $1 AND data_type = $2 AND timestamp >= $3 AND timestamp < $4`,
		area, dataType, start, end).Scan(&n)
	if err != nil {
		return 0, &StoreError{Model: "energy_price_point", Op: "count", Err: err}
	}
	return n, nil
}

// rangeFilterClause builds the WHERE clause for range queries. Slices map to
// = ANY($n); pgx encodes them as arrays.
func rangeFilterClause(start, end time.Time, filter PointFilter) (string, []any) {
	clauses := []string{"timestamp >= $1", "timestamp < $2"}
	args := []any{start, end}
	if len(filter.Areas) > 0 {
		args = append(args, filter.Areas)
		clauses = append(clauses, fmt.Sprintf("area_code = ANY($%d)", len(args)))
	}
	if len(filter.DataTypes) > 0 {
		types := make([]string, len(filter.DataTypes))
		for i, dt := range filter.DataTypes {
			types[i] = string(dt)
		}
		args = append(args, types)
		clauses = append(clauses, fmt.Sprintf("data_type = ANY($%d)", len(args)))
	}
	if len(filter.BusinessTypes) > 0 {
		args = append(args, filter.BusinessTypes)
		clauses = append(clauses, fmt.Sprintf("business_type = ANY($%d)", len(args)))
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func scanLoadPoint(row pgx.Row) (*models.EnergyDataPoint, error) {
	var p models.EnergyDataPoint
	var curveType, objectAggregation *string
	err := row.Scan(
		&p.Timestamp, &p.AreaCode, &p.DataType, &p.BusinessType, &p.Quantity, &p.Unit, &p.DataSource,
		&p.DocumentMRID, &p.RevisionNumber, &p.DocumentCreatedAt, &p.TimeSeriesMRID, &p.Resolution,
		&curveType, &objectAggregation, &p.Position, &p.PeriodStart, &p.PeriodEnd, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.CurveType = deref(curveType)
	p.ObjectAggregation = deref(objectAggregation)
	return &p, nil
}

func scanLoadPoints(rows pgx.Rows) ([]models.EnergyDataPoint, error) {
	var points []models.EnergyDataPoint
	for rows.Next() {
		p, err := scanLoadPoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, *p)
	}
	return points, rows.Err()
}

func scanPricePoint(row pgx.Row) (*models.EnergyPricePoint, error) {
	var p models.EnergyPricePoint
	var auctionType, contractType, curveType *string
	err := row.Scan(
		&p.Timestamp, &p.AreaCode, &p.DataType, &p.BusinessType, &p.PriceAmount, &p.CurrencyUnitName,
		&p.PriceMeasureUnitName, &auctionType, &contractType, &p.DataSource,
		&p.DocumentMRID, &p.RevisionNumber, &p.DocumentCreatedAt, &p.TimeSeriesMRID, &p.Resolution,
		&curveType, &p.Position, &p.PeriodStart, &p.PeriodEnd, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.AuctionType = deref(auctionType)
	p.ContractMarketAgreementType = deref(contractType)
	p.CurveType = deref(curveType)
	return &p, nil
}

func scanPricePoints(rows pgx.Rows) ([]models.EnergyPricePoint, error) {
	var points []models.EnergyPricePoint
	for rows.Next() {
		p, err := scanPricePoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, *p)
	}
	return points, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
