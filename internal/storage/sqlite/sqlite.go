package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"foxden/internal/storage"
	"foxden/internal/storage/models"
	pkgerrors "foxden/pkg/errors"
)

// DB implements the Storage interface using SQLite
type DB struct {
	db *sql.DB
}

// New creates a new SQLite storage instance
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &DB{db: db}
	if err := runMigrations(store); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

var _ storage.Storage = (*DB)(nil)

// ─── Descriptor operations ──────────────────────────────────────────────────

func (d *DB) CreateDescriptor(ctx context.Context, desc *models.Descriptor) error {
	settingsJSON, err := marshalSettings(desc)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO descriptors (id, name, kind, host, port, username, password, settings, status, country, city, timezone, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = d.db.ExecContext(ctx, query,
		desc.ID, desc.Name, string(desc.Kind), desc.Host, desc.Port,
		desc.Username, desc.Password, settingsJSON, string(desc.Status),
		desc.Country, desc.City, desc.Timezone, strings.Join(desc.Tags, ","),
	)
	if err != nil {
		return fmt.Errorf("failed to create descriptor: %w", err)
	}
	return nil
}

func (d *DB) GetDescriptor(ctx context.Context, id string) (*models.Descriptor, error) {
	row := d.db.QueryRowContext(ctx, selectDescriptor+" WHERE id = ?", id)
	return scanDescriptor(row)
}

func (d *DB) GetDescriptorByName(ctx context.Context, name string) (*models.Descriptor, error) {
	row := d.db.QueryRowContext(ctx, selectDescriptor+" WHERE name = ?", name)
	return scanDescriptor(row)
}

func (d *DB) ListDescriptors(ctx context.Context, filter storage.DescriptorFilter) ([]*models.Descriptor, error) {
	query := selectDescriptor
	var conditions []string
	var args []interface{}

	if filter.Kind != nil {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(*filter.Kind))
	}
	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.SearchTerm != "" {
		conditions = append(conditions, "(name LIKE ? OR host LIKE ?)")
		term := "%" + filter.SearchTerm + "%"
		args = append(args, term, term)
	}
	for _, tag := range filter.Tags {
		conditions = append(conditions, "(',' || tags || ',') LIKE ?")
		args = append(args, "%,"+tag+",%")
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY name"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list descriptors: %w", err)
	}
	defer rows.Close()

	var descriptors []*models.Descriptor
	for rows.Next() {
		desc, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, desc)
	}
	return descriptors, rows.Err()
}

func (d *DB) UpdateDescriptor(ctx context.Context, desc *models.Descriptor) error {
	settingsJSON, err := marshalSettings(desc)
	if err != nil {
		return err
	}

	query := `
		UPDATE descriptors
		SET name = ?, kind = ?, host = ?, port = ?, username = ?, password = ?,
		    settings = ?, status = ?, latency_ms = ?, checked_at = ?,
		    country = ?, city = ?, timezone = ?, tags = ?
		WHERE id = ?
	`
	result, err := d.db.ExecContext(ctx, query,
		desc.Name, string(desc.Kind), desc.Host, desc.Port, desc.Username, desc.Password,
		settingsJSON, string(desc.Status), desc.LatencyMS, desc.CheckedAt,
		desc.Country, desc.City, desc.Timezone, strings.Join(desc.Tags, ","),
		desc.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update descriptor: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return &pkgerrors.DescriptorError{ID: desc.ID, Name: desc.Name, Err: pkgerrors.ErrDescriptorNotFound}
	}
	return nil
}

func (d *DB) DeleteDescriptor(ctx context.Context, id string) error {
	result, err := d.db.ExecContext(ctx, "DELETE FROM descriptors WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete descriptor: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return &pkgerrors.DescriptorError{ID: id, Err: pkgerrors.ErrDescriptorNotFound}
	}
	return nil
}

const selectDescriptor = `
	SELECT id, name, kind, host, port, username, password, settings, status,
	       latency_ms, checked_at, country, city, timezone, tags, created_at, updated_at
	FROM descriptors
`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDescriptor(row rowScanner) (*models.Descriptor, error) {
	var desc models.Descriptor
	var kind, status string
	var username, password, settingsJSON, country, city, timezone, tags sql.NullString
	var latencyMS sql.NullInt64
	var checkedAt sql.NullTime

	err := row.Scan(
		&desc.ID, &desc.Name, &kind, &desc.Host, &desc.Port,
		&username, &password, &settingsJSON, &status,
		&latencyMS, &checkedAt, &country, &city, &timezone, &tags,
		&desc.CreatedAt, &desc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.ErrDescriptorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan descriptor: %w", err)
	}

	desc.Kind = models.Kind(kind)
	desc.Status = models.Status(status)
	desc.Username = username.String
	desc.Password = password.String
	desc.Country = country.String
	desc.City = city.String
	desc.Timezone = timezone.String
	if latencyMS.Valid {
		v := latencyMS.Int64
		desc.LatencyMS = &v
	}
	if checkedAt.Valid {
		t := checkedAt.Time
		desc.CheckedAt = &t
	}
	if tags.String != "" {
		desc.Tags = strings.Split(tags.String, ",")
	}

	if err := unmarshalSettings(&desc, settingsJSON.String); err != nil {
		return nil, err
	}
	return &desc, nil
}

// marshalSettings serializes the protocol-specific settings variant.
func marshalSettings(desc *models.Descriptor) (string, error) {
	var v interface{}
	switch desc.Kind {
	case models.KindShadowsocks:
		v = desc.Shadowsocks
	case models.KindVMess:
		v = desc.VMess
	case models.KindVLESS:
		v = desc.VLESS
	case models.KindTrojan:
		v = desc.Trojan
	default:
		return "", nil
	}
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settings: %w", err)
	}
	return string(data), nil
}

func unmarshalSettings(desc *models.Descriptor, settingsJSON string) error {
	if settingsJSON == "" {
		return nil
	}
	var err error
	switch desc.Kind {
	case models.KindShadowsocks:
		desc.Shadowsocks = &models.ShadowsocksSettings{}
		err = json.Unmarshal([]byte(settingsJSON), desc.Shadowsocks)
	case models.KindVMess:
		desc.VMess = &models.VMessSettings{}
		err = json.Unmarshal([]byte(settingsJSON), desc.VMess)
	case models.KindVLESS:
		desc.VLESS = &models.VLESSSettings{}
		err = json.Unmarshal([]byte(settingsJSON), desc.VLESS)
	case models.KindTrojan:
		desc.Trojan = &models.TrojanSettings{}
		err = json.Unmarshal([]byte(settingsJSON), desc.Trojan)
	}
	if err != nil {
		return fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	return nil
}

// ─── Check operations ───────────────────────────────────────────────────────

func (d *DB) RecordCheck(ctx context.Context, result *models.CheckResult) error {
	query := `
		INSERT INTO check_results (descriptor_id, latency_ms, success, error_message, strategy, checked_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	res, err := d.db.ExecContext(ctx, query,
		result.DescriptorID, result.LatencyMS, result.Success,
		result.ErrorMessage, result.Strategy, result.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record check: %w", err)
	}
	result.ID, _ = res.LastInsertId()

	// Mirror the outcome onto the descriptor for quick listing.
	_, err = d.db.ExecContext(ctx,
		"UPDATE descriptors SET status = ?, latency_ms = ?, checked_at = ? WHERE id = ?",
		string(models.StatusFromResult(result.Success)), result.LatencyMS, result.CheckedAt, result.DescriptorID,
	)
	if err != nil {
		return fmt.Errorf("failed to update descriptor status: %w", err)
	}
	return nil
}

func (d *DB) GetLatestCheck(ctx context.Context, descriptorID string) (*models.CheckResult, error) {
	results, err := d.GetCheckHistory(ctx, descriptorID, 1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, sql.ErrNoRows
	}
	return results[0], nil
}

func (d *DB) GetCheckHistory(ctx context.Context, descriptorID string, limit int) ([]*models.CheckResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, descriptor_id, latency_ms, success, error_message, strategy, checked_at
		FROM check_results
		WHERE descriptor_id = ?
		ORDER BY checked_at DESC, id DESC
		LIMIT ?
	`, descriptorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query check history: %w", err)
	}
	defer rows.Close()

	var results []*models.CheckResult
	for rows.Next() {
		var r models.CheckResult
		var latencyMS sql.NullInt64
		var errorMessage sql.NullString
		if err := rows.Scan(&r.ID, &r.DescriptorID, &latencyMS, &r.Success, &errorMessage, &r.Strategy, &r.CheckedAt); err != nil {
			return nil, fmt.Errorf("failed to scan check result: %w", err)
		}
		if latencyMS.Valid {
			v := latencyMS.Int64
			r.LatencyMS = &v
		}
		r.ErrorMessage = errorMessage.String
		results = append(results, &r)
	}
	return results, rows.Err()
}

// ─── Settings operations ────────────────────────────────────────────────────

func (d *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}
