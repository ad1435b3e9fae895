// Package store provides SQLite persistence for hublens client state.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/darshan-rambhia/hublens/internal/model"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps a SQLite database holding instances, secrets, token cache,
// pins, alert state and settings.
type Store struct {
	db *sql.DB
}

// New opens or creates a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", dbPath, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertInstance inserts or updates an instance record.
func (s *Store) UpsertInstance(inst model.Instance) error {
	ins := 0
	if inst.Insecure {
		ins = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO instances (id, name, url, email, insecure, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			email = excluded.email,
			insecure = excluded.insecure`,
		inst.ID, inst.Name, inst.URL, inst.Email, ins, inst.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upserting instance %s: %w", inst.ID, err)
	}
	return nil
}

// GetInstance returns the instance with the given id.
func (s *Store) GetInstance(id string) (model.Instance, error) {
	row := s.db.QueryRow(`
		SELECT id, name, url, email, insecure, created_at
		FROM instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Instance{}, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Instance{}, fmt.Errorf("querying instance %s: %w", id, err)
	}
	return inst, nil
}

// ListInstances returns all instances in creation order.
func (s *Store) ListInstances() ([]model.Instance, error) {
	rows, err := s.db.Query(`
		SELECT id, name, url, email, insecure, created_at
		FROM instances ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying instances: %w", err)
	}
	defer rows.Close()

	var out []model.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(row scanner) (model.Instance, error) {
	var (
		inst     model.Instance
		insecure int
		created  int64
	)
	if err := row.Scan(&inst.ID, &inst.Name, &inst.URL, &inst.Email, &insecure, &created); err != nil {
		return model.Instance{}, err
	}
	inst.Insecure = insecure != 0
	inst.CreatedAt = time.UnixMilli(created).UTC()
	return inst, nil
}

// Per-instance setting names.
const (
	SettingTimeRange    = "time_range"
	SettingActiveSystem = "active_system"
)

// InstanceSettingKey is the settings key for name scoped to one instance.
func InstanceSettingKey(name, instanceID string) string {
	return name + ":" + instanceID
}

// DeleteInstance removes an instance and every row keyed by it.
func (s *Store) DeleteInstance(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete of instance %s: %w", id, err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM credentials WHERE instance_id = ?",
		"DELETE FROM token_cache WHERE instance_id = ?",
		"DELETE FROM pinned_items WHERE instance_id = ?",
		"DELETE FROM alert_state WHERE instance_id = ?",
		"DELETE FROM instances WHERE id = ?",
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return fmt.Errorf("deleting instance %s: %w", id, err)
		}
	}
	if _, err := tx.Exec("DELETE FROM settings WHERE key IN (?, ?)",
		InstanceSettingKey(SettingTimeRange, id), InstanceSettingKey(SettingActiveSystem, id)); err != nil {
		return fmt.Errorf("deleting settings of instance %s: %w", id, err)
	}
	return tx.Commit()
}

// PutSealed stores an encrypted credential blob.
func (s *Store) PutSealed(instanceID string, nonce, ciphertext []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO credentials (instance_id, nonce, ciphertext, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			nonce = excluded.nonce,
			ciphertext = excluded.ciphertext,
			updated_at = excluded.updated_at`,
		instanceID, nonce, ciphertext, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("storing credential %s: %w", instanceID, err)
	}
	return nil
}

// GetSealed returns the encrypted credential blob for an instance.
func (s *Store) GetSealed(instanceID string) (nonce, ciphertext []byte, err error) {
	err = s.db.QueryRow(`SELECT nonce, ciphertext FROM credentials WHERE instance_id = ?`, instanceID).
		Scan(&nonce, &ciphertext)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("credential %s: %w", instanceID, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("querying credential %s: %w", instanceID, err)
	}
	return nonce, ciphertext, nil
}

// DeleteSealed removes an instance's encrypted credential, if any.
func (s *Store) DeleteSealed(instanceID string) error {
	if _, err := s.db.Exec(`DELETE FROM credentials WHERE instance_id = ?`, instanceID); err != nil {
		return fmt.Errorf("deleting credential %s: %w", instanceID, err)
	}
	return nil
}

// SaveToken caches a bearer token with its issue time.
func (s *Store) SaveToken(instanceID, token string, savedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO token_cache (instance_id, token, saved_at)
		VALUES (?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			token = excluded.token,
			saved_at = excluded.saved_at`,
		instanceID, token, savedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("caching token %s: %w", instanceID, err)
	}
	return nil
}

// LoadToken returns the cached token and the time it was saved.
func (s *Store) LoadToken(instanceID string) (string, time.Time, error) {
	var (
		token string
		saved int64
	)
	err := s.db.QueryRow(`SELECT token, saved_at FROM token_cache WHERE instance_id = ?`, instanceID).
		Scan(&token, &saved)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, fmt.Errorf("token %s: %w", instanceID, ErrNotFound)
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("querying token %s: %w", instanceID, err)
	}
	return token, time.UnixMilli(saved), nil
}

// DeleteToken removes the cached token only if it still equals token. An
// empty token removes unconditionally.
func (s *Store) DeleteToken(instanceID, token string) error {
	var err error
	if token == "" {
		_, err = s.db.Exec(`DELETE FROM token_cache WHERE instance_id = ?`, instanceID)
	} else {
		_, err = s.db.Exec(`DELETE FROM token_cache WHERE instance_id = ? AND token = ?`, instanceID, token)
	}
	if err != nil {
		return fmt.Errorf("deleting token %s: %w", instanceID, err)
	}
	return nil
}

// SavePins replaces the pinned list for one (instance, system) scope. An
// empty list deletes the scope.
func (s *Store) SavePins(instanceID, systemID string, items model.PinnedList) error {
	if len(items) == 0 {
		_, err := s.db.Exec(`DELETE FROM pinned_items WHERE instance_id = ? AND system_id = ?`, instanceID, systemID)
		if err != nil {
			return fmt.Errorf("clearing pins %s-%s: %w", instanceID, systemID, err)
		}
		return nil
	}

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling pins: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO pinned_items (instance_id, system_id, items_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(instance_id, system_id) DO UPDATE SET
			items_json = excluded.items_json,
			updated_at = excluded.updated_at`,
		instanceID, systemID, string(data), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving pins %s-%s: %w", instanceID, systemID, err)
	}
	return nil
}

// LoadPins returns every pinned scope.
func (s *Store) LoadPins() (map[model.PinScope]model.PinnedList, error) {
	rows, err := s.db.Query(`SELECT instance_id, system_id, items_json FROM pinned_items`)
	if err != nil {
		return nil, fmt.Errorf("querying pins: %w", err)
	}
	defer rows.Close()

	out := make(map[model.PinScope]model.PinnedList)
	for rows.Next() {
		var inst, sys, raw string
		if err := rows.Scan(&inst, &sys, &raw); err != nil {
			return nil, fmt.Errorf("scanning pins: %w", err)
		}
		var items model.PinnedList
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, fmt.Errorf("decoding pins %s-%s: %w", inst, sys, err)
		}
		out[model.PinScope{InstanceID: inst, SystemID: sys}] = items
	}
	return out, rows.Err()
}

// DeletePins removes every pinned scope of an instance.
func (s *Store) DeletePins(instanceID string) error {
	if _, err := s.db.Exec(`DELETE FROM pinned_items WHERE instance_id = ?`, instanceID); err != nil {
		return fmt.Errorf("deleting pins %s: %w", instanceID, err)
	}
	return nil
}

// AlertState is the persisted part of an alert tracker.
type AlertState struct {
	Seen  []string
	Since time.Time
}

// SaveAlertState persists the seen-id set and the last check time as epoch
// seconds.
func (s *Store) SaveAlertState(instanceID string, st AlertState) error {
	seen := st.Seen
	if seen == nil {
		seen = []string{}
	}
	data, err := json.Marshal(seen)
	if err != nil {
		return fmt.Errorf("marshaling seen ids: %w", err)
	}
	since := float64(st.Since.UnixNano()) / 1e9
	_, err = s.db.Exec(`
		INSERT INTO alert_state (instance_id, seen_json, since)
		VALUES (?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			seen_json = excluded.seen_json,
			since = excluded.since`,
		instanceID, string(data), since,
	)
	if err != nil {
		return fmt.Errorf("saving alert state %s: %w", instanceID, err)
	}
	return nil
}

// LoadAlertState returns the persisted alert state for an instance.
func (s *Store) LoadAlertState(instanceID string) (AlertState, error) {
	var (
		raw   string
		since float64
	)
	err := s.db.QueryRow(`SELECT seen_json, since FROM alert_state WHERE instance_id = ?`, instanceID).
		Scan(&raw, &since)
	if errors.Is(err, sql.ErrNoRows) {
		return AlertState{}, fmt.Errorf("alert state %s: %w", instanceID, ErrNotFound)
	}
	if err != nil {
		return AlertState{}, fmt.Errorf("querying alert state %s: %w", instanceID, err)
	}

	var st AlertState
	if err := json.Unmarshal([]byte(raw), &st.Seen); err != nil {
		return AlertState{}, fmt.Errorf("decoding seen ids %s: %w", instanceID, err)
	}
	sec, frac := math.Modf(since)
	st.Since = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	return st, nil
}

// SetSetting stores a string value under key.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}
	return nil
}

// GetSetting returns the value stored under key.
func (s *Store) GetSetting(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("querying setting %s: %w", key, err)
	}
	return v, nil
}
