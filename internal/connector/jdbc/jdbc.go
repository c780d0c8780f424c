// Package jdbc implements relational database source connectors over
// database/sql.
//
// Architecture:
//
//	Base      - generic connector, ANSI information_schema metadata
//	register  - driver-specific factories (lib/pq, pgx)
//
// Slices are read with half-open predicates on the unit's incremental
// column: lower < col AND col <= upper. The lower bound was covered by the
// run that produced it.
package jdbc

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nucleus/ingest-core/internal/endpoint"
)

var (
	_ endpoint.SourceEndpoint = (*Base)(nil)
	_ endpoint.CountProbe     = (*Base)(nil)
)

// incrementalCandidates are checked in order when detecting a unit's
// incremental column.
var incrementalCandidates = []string{"updated_at", "modified_at", "last_modified", "created_at"}

// Config holds database connection configuration.
type Config struct {
	Driver           string
	Host             string
	Port             int
	Database         string
	User             string
	Password         string
	SSLMode          string
	ConnectionString string
}

// ParseConfig extracts configuration from a generic map.
func ParseConfig(m map[string]any) *Config {
	cfg := &Config{
		Driver:   getString(m, "driver", "postgres"),
		Host:     getString(m, "host", "localhost"),
		Port:     getInt(m, "port", 5432),
		Database: getString(m, "database", ""),
		User:     getString(m, "user", ""),
		Password: getString(m, "password", ""),
		SSLMode:  getString(m, "sslMode", "disable"),
	}

	if connStr := getString(m, "connectionString", ""); connStr != "" {
		cfg.ConnectionString = connStr
	} else {
		cfg.ConnectionString = fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
		)
	}

	return cfg
}

// Base implements the generic relational source connector. Driver-specific
// factories wrap it with their template ID and driver name.
type Base struct {
	Config     *Config
	DB         *sql.DB
	DriverName string

	// units caches the incremental column per unit between ListUnits and
	// CountBetween calls.
	units map[string]*endpoint.UnitDescriptor
}

// NewBase opens a database handle for the configured driver.
func NewBase(config map[string]any) (*Base, error) {
	cfg := ParseConfig(config)

	db, err := sql.Open(cfg.Driver, cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Base{Config: cfg, DB: db, DriverName: cfg.Driver, units: make(map[string]*endpoint.UnitDescriptor)}, nil
}

func (b *Base) ID() string {
	return "jdbc." + b.DriverName
}

func (b *Base) Descriptor() *endpoint.Descriptor {
	return &endpoint.Descriptor{
		ID:          b.ID(),
		Family:      "jdbc",
		Title:       "Relational Database",
		Vendor:      "Generic",
		Description: "ANSI SQL database source",
		Categories:  []string{"database", "sql"},
	}
}

func (b *Base) Capabilities() *endpoint.Capabilities {
	return &endpoint.Capabilities{
		SupportsFull:        true,
		SupportsIncremental: true,
		SupportsCountProbe:  true,
		SupportsPreview:     true,
		IncrementalLiteral:  "timestamp",
		DefaultFetchSize:    10000,
	}
}

// ValidateConfig pings the database.
func (b *Base) ValidateConfig(ctx context.Context, _ map[string]any) (*endpoint.ValidationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := b.DB.PingContext(ctx); err != nil {
		return &endpoint.ValidationResult{Valid: false, Message: err.Error()}, nil
	}
	return &endpoint.ValidationResult{Valid: true, Message: "Connection successful"}, nil
}

func (b *Base) Close() error {
	if b.DB != nil {
		return b.DB.Close()
	}
	return nil
}

// ListUnits returns user tables and views, with incremental columns
// detected from the schema.
func (b *Base) ListUnits(ctx context.Context) ([]*endpoint.UnitDescriptor, error) {
	query := `
		SELECT table_schema, table_name, table_type
		FROM information_schema.tables
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name
	`

	rows, err := b.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	var units []*endpoint.UnitDescriptor
	for rows.Next() {
		var schema, name, tableType string
		if err := rows.Scan(&schema, &name, &tableType); err != nil {
			continue
		}

		kind := "table"
		if strings.Contains(strings.ToLower(tableType), "view") {
			kind = "view"
		}

		unit := &endpoint.UnitDescriptor{
			UnitID: fmt.Sprintf("%s.%s", schema, name),
			Name:   name,
			Kind:   kind,
		}
		if col, err := b.detectIncrementalColumn(ctx, schema, name); err == nil && col != "" {
			unit.SupportsIncremental = true
			unit.IncrementalColumn = col
			unit.IncrementalLiteral = "timestamp"
		}
		units = append(units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, u := range units {
		b.units[u.UnitID] = u
	}
	return units, nil
}

// detectIncrementalColumn picks the first candidate column present on the
// table.
func (b *Base) detectIncrementalColumn(ctx context.Context, schema, table string) (string, error) {
	query := `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
	`
	rows, err := b.DB.QueryContext(ctx, query, schema, table)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			continue
		}
		present[strings.ToLower(col)] = true
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	for _, candidate := range incrementalCandidates {
		if present[candidate] {
			return candidate, nil
		}
	}
	return "", nil
}

// ReadSlice streams the rows covered by one slice.
func (b *Base) ReadSlice(ctx context.Context, req *endpoint.SliceReadRequest) (endpoint.Iterator[endpoint.Record], error) {
	schema, table, err := splitUnitID(req.UnitID)
	if err != nil {
		return nil, err
	}

	column := ""
	if req.Slice != nil {
		if col, ok := req.Slice.Params["incrementalColumn"].(string); ok {
			column = col
		}
	}

	query, args := buildSliceQuery(schema, table, column, req.Slice, req.Limit)

	rows, err := b.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read slice query: %w", err)
	}

	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("columns: %w", err)
	}

	return &rowIterator{rows: rows, cols: cols, markerCol: column}, nil
}

// CountBetween counts rows in (lower, upper] on the unit's incremental
// column.
func (b *Base) CountBetween(ctx context.Context, unitID, lower, upper string) (int64, error) {
	schema, table, err := splitUnitID(unitID)
	if err != nil {
		return 0, err
	}

	column := ""
	if unit, ok := b.units[unitID]; ok {
		column = unit.IncrementalColumn
	}
	if column == "" {
		column = incrementalCandidates[0]
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", quoteIdent(schema), quoteIdent(table))
	var (
		preds []string
		args  []any
	)
	if lower != "" {
		args = append(args, lower)
		preds = append(preds, fmt.Sprintf("%s > $%d", quoteIdent(column), len(args)))
	}
	if upper != "" {
		args = append(args, upper)
		preds = append(preds, fmt.Sprintf("%s <= $%d", quoteIdent(column), len(args)))
	}
	if len(preds) > 0 {
		query += " WHERE " + strings.Join(preds, " AND ")
	}

	var count int64
	if err := b.DB.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count between: %w", err)
	}
	return count, nil
}

// buildSliceQuery renders the bounded select for one slice. Exposed for
// tests through the package boundary.
func buildSliceQuery(schema, table, column string, slice *endpoint.IngestionSlice, limit int64) (string, []any) {
	query := fmt.Sprintf("SELECT * FROM %s.%s", quoteIdent(schema), quoteIdent(table))
	var (
		preds []string
		args  []any
	)

	if slice != nil && column != "" {
		if slice.Lower != "" {
			args = append(args, slice.Lower)
			preds = append(preds, fmt.Sprintf("%s > $%d", quoteIdent(column), len(args)))
		}
		if slice.Upper != "" {
			args = append(args, slice.Upper)
			preds = append(preds, fmt.Sprintf("%s <= $%d", quoteIdent(column), len(args)))
		}
	}

	if len(preds) > 0 {
		query += " WHERE " + strings.Join(preds, " AND ")
	}
	if column != "" {
		query += fmt.Sprintf(" ORDER BY %s", quoteIdent(column))
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return query, args
}

func splitUnitID(unitID string) (schema, table string, err error) {
	parts := strings.SplitN(unitID, ".", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid unit id %q, expected schema.table", unitID)
	}
	return parts[0], parts[1], nil
}

// quoteIdent defends identifiers interpolated into SQL text.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func getString(m map[string]any, key, defaultVal string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return defaultVal
}

func getInt(m map[string]any, key string, defaultVal int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return defaultVal
}
