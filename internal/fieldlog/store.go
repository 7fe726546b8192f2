package fieldlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a farm, field, or product does not exist.
var ErrNotFound = errors.New("not found")

// Farm is a farm operation owned by a user.
type Farm struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	State     string    `json:"state,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Field is a named, measured piece of ground on a farm.
type Field struct {
	ID          string    `json:"id"`
	FarmID      string    `json:"farm_id"`
	Name        string    `json:"name"`
	Acreage     float64   `json:"acreage"`
	CentroidLat *float64  `json:"centroid_lat,omitempty"`
	CentroidLon *float64  `json:"centroid_lon,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists farms, fields, and the product catalog.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the fieldlog database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s, err := NewStoreWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithDB uses an existing database connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS farms (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			address TEXT,
			state TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_farms_user ON farms(user_id);

		CREATE TABLE IF NOT EXISTS fields (
			id TEXT PRIMARY KEY,
			farm_id TEXT NOT NULL REFERENCES farms(id),
			name TEXT NOT NULL,
			acreage REAL NOT NULL,
			centroid_lat REAL,
			centroid_lon REAL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_fields_farm ON fields(farm_id);

		CREATE TABLE IF NOT EXISTS product_catalog (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			manufacturer TEXT,
			epa_reg_no TEXT,
			product_type TEXT NOT NULL,
			restricted_use INTEGER NOT NULL DEFAULT 0,
			rei_hours INTEGER,
			phi_days INTEGER,
			label_rate_min REAL,
			label_rate_max REAL,
			label_rate_unit TEXT,
			allowed_crops TEXT,
			aliases TEXT
		);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateFarm adds a farm for userID.
func (s *Store) CreateFarm(ctx context.Context, userID, name, address, state string) (*Farm, error) {
	f := &Farm{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Address:   address,
		State:     state,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO farms (id, user_id, name, address, state, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.Name, nullString(address), nullString(state), f.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert farm: %w", err)
	}
	return f, nil
}

// ListFarms returns a user's farms, newest first.
func (s *Store) ListFarms(ctx context.Context, userID string) ([]Farm, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, address, state, created_at FROM farms WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query farms: %w", err)
	}
	defer rows.Close()

	var out []Farm
	for rows.Next() {
		var f Farm
		var address, state sql.NullString
		var created string
		if err := rows.Scan(&f.ID, &f.UserID, &f.Name, &address, &state, &created); err != nil {
			return nil, fmt.Errorf("scan farm: %w", err)
		}
		f.Address, f.State = address.String, state.String
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, f)
	}
	return out, rows.Err()
}

// CreateField adds a field to a farm. The farm must exist.
func (s *Store) CreateField(ctx context.Context, f Field) (*Field, error) {
	if f.Acreage <= 0 {
		return nil, fmt.Errorf("acreage must be positive, got %v", f.Acreage)
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM farms WHERE id = ?`, f.FarmID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check farm: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("farm %s: %w", f.FarmID, ErrNotFound)
	}

	f.ID = uuid.NewString()
	f.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fields (id, farm_id, name, acreage, centroid_lat, centroid_lon, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.FarmID, f.Name, f.Acreage, f.CentroidLat, f.CentroidLon, f.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert field: %w", err)
	}
	return &f, nil
}

const fieldColumns = `id, farm_id, name, acreage, centroid_lat, centroid_lon, created_at`

// ListFields returns a farm's fields, newest first.
func (s *Store) ListFields(ctx context.Context, farmID string) ([]Field, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fieldColumns+` FROM fields WHERE farm_id = ? ORDER BY created_at DESC`, farmID)
	if err != nil {
		return nil, fmt.Errorf("query fields: %w", err)
	}
	defer rows.Close()

	var out []Field
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// GetField returns one field or ErrNotFound.
func (s *Store) GetField(ctx context.Context, id string) (*Field, error) {
	f, err := scanField(s.db.QueryRowContext(ctx, `SELECT `+fieldColumns+` FROM fields WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select field: %w", err)
	}
	return f, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanField(row scanner) (*Field, error) {
	var f Field
	var lat, lon sql.NullFloat64
	var created string
	if err := row.Scan(&f.ID, &f.FarmID, &f.Name, &f.Acreage, &lat, &lon, &created); err != nil {
		return nil, err
	}
	if lat.Valid {
		f.CentroidLat = &lat.Float64
	}
	if lon.Valid {
		f.CentroidLon = &lon.Float64
	}
	f.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &f, nil
}

// SeedCatalog inserts products whose name is not already present and
// returns how many were added.
func (s *Store) SeedCatalog(ctx context.Context, products []Product) (int, error) {
	added := 0
	for _, p := range products {
		crops, _ := json.Marshal(p.AllowedCrops)
		aliases, _ := json.Marshal(p.Aliases)
		res, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO product_catalog
				(id, name, manufacturer, epa_reg_no, product_type, restricted_use, rei_hours, phi_days,
				 label_rate_min, label_rate_max, label_rate_unit, allowed_crops, aliases)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, uuid.NewString(), p.Name, nullString(p.Manufacturer), nullString(p.EPARegNo), p.ProductType,
			p.RestrictedUse, p.REIHours, p.PHIDays, p.LabelRateMin, p.LabelRateMax,
			nullString(p.LabelRateUnit), string(crops), string(aliases))
		if err != nil {
			return added, fmt.Errorf("seed %s: %w", p.Name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}

// ListCatalog returns every product ordered by name.
func (s *Store) ListCatalog(ctx context.Context) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, manufacturer, epa_reg_no, product_type, restricted_use, rei_hours, phi_days,
		       label_rate_min, label_rate_max, label_rate_unit, allowed_crops, aliases
		FROM product_catalog
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var (
			p                       Product
			manufacturer, epa, unit sql.NullString
			crops, aliases          sql.NullString
			rei, phi                sql.NullInt64
			rateMin, rateMax        sql.NullFloat64
		)
		if err := rows.Scan(&p.ID, &p.Name, &manufacturer, &epa, &p.ProductType, &p.RestrictedUse,
			&rei, &phi, &rateMin, &rateMax, &unit, &crops, &aliases); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.Manufacturer, p.EPARegNo, p.LabelRateUnit = manufacturer.String, epa.String, unit.String
		if rei.Valid {
			p.REIHours = ptr(int(rei.Int64))
		}
		if phi.Valid {
			p.PHIDays = ptr(int(phi.Int64))
		}
		if rateMin.Valid {
			p.LabelRateMin = ptr(rateMin.Float64)
		}
		if rateMax.Valid {
			p.LabelRateMax = ptr(rateMax.Float64)
		}
		if crops.Valid {
			_ = json.Unmarshal([]byte(crops.String), &p.AllowedCrops)
		}
		if aliases.Valid {
			_ = json.Unmarshal([]byte(aliases.String), &p.Aliases)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindCatalogCandidates ranks catalog products against raw text, best
// first.
func (s *Store) FindCatalogCandidates(ctx context.Context, raw string, limit int) ([]Candidate, error) {
	products, err := s.ListCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return RankCandidates(products, raw, limit), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
