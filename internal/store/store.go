package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/wahub/wahub/internal/config"
	"github.com/wahub/wahub/internal/database"
	apperrors "github.com/wahub/wahub/internal/errors"
)

// tableInfo describes how the generic primitives treat a table. scopeCol is
// the column carrying the owning session id ("" for the global tables); soft
// marks the tables deleted with a flag instead of physical removal.
type tableInfo struct {
	scopeCol   string
	soft       bool
	appendOnly bool
}

var tables = map[string]tableInfo{
	"users":              {},
	"user_sessions":      {},
	"activity_logs":      {appendOnly: true},
	"sessions":           {scopeCol: "id"},
	"chats":              {scopeCol: "session_id", soft: true},
	"contacts":           {scopeCol: "session_id", soft: true},
	"messages":           {scopeCol: "session_id", soft: true},
	"reactions":          {scopeCol: "session_id"},
	"groups":             {scopeCol: "session_id", soft: true},
	"group_members":      {scopeCol: "session_id"},
	"calls":              {scopeCol: "session_id"},
	"labels":             {scopeCol: "session_id", soft: true},
	"label_associations": {scopeCol: "session_id"},
	"webhooks":           {scopeCol: "session_id"},
	"webhook_deliveries": {scopeCol: "session_id", appendOnly: true},
	"backups":            {scopeCol: "session_id", appendOnly: true},
}

var identRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Store is the single source of truth for durable state. One instance exists
// per session, plus one global instance (empty session id) for the shared
// tables. All instances share the one database handle and its write-lock
// discipline; the cache is private to each instance.
type Store struct {
	db        *database.DB
	sessionID string
	cache     *Cache
	emitter   *emitter
	closed    atomic.Bool
}

// New creates a store scoped to sessionID, or a global store when sessionID
// is empty.
func New(db *database.DB, sessionID string, cacheSize int) (*Store, error) {
	cache, err := NewCache(cacheSize)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:        db,
		sessionID: sessionID,
		cache:     cache,
		emitter:   newEmitter(),
	}
	s.emitter.emit(Event{Kind: EventInit, SessionID: sessionID})
	return s, nil
}

// SessionID returns the scoping id, empty for the global store.
func (s *Store) SessionID() string {
	return s.sessionID
}

// On registers a typed callback and returns its unsubscribe handle.
func (s *Store) On(kind EventKind, h Handler) *Subscription {
	return s.emitter.on(kind, h)
}

// Close marks the store unusable and notifies subscribers. The shared
// database handle stays open; it belongs to the process, not the store.
func (s *Store) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.emitter.emit(Event{Kind: EventClose, SessionID: s.sessionID})
	s.cache.Purge()
}

func (s *Store) emitError(op string, err error) {
	log.Warn().Err(err).Str("sessionId", s.sessionID).Str("op", op).Msg("store handler item failed")
	s.emitter.emit(Event{
		Kind:      EventError,
		SessionID: s.sessionID,
		Data:      ErrorData{Op: op, Err: err.Error()},
	})
}

// resolve validates the table name and enforces session scoping, returning
// the table info. A scoped table on a store without a session id is an
// invalid-state error, as is any operation after Close.
func (s *Store) resolve(table string) (tableInfo, error) {
	if s.closed.Load() {
		return tableInfo{}, apperrors.StoreClosed()
	}
	info, ok := tables[table]
	if !ok {
		return tableInfo{}, apperrors.InvalidInput("table", fmt.Sprintf("unknown table %q", table))
	}
	if info.scopeCol != "" && s.sessionID == "" {
		return tableInfo{}, apperrors.ValidationError(fmt.Sprintf("table %s requires a session-scoped store", table))
	}
	return info, nil
}

// Upsert inserts data into table, or on primary-key conflict updates every
// non-key column and refreshes updated_at. The row's identity (created_at,
// key columns) never changes on conflict.
func (s *Store) Upsert(ctx context.Context, table string, data map[string]any, keyFields []string) error {
	info, err := s.resolve(table)
	if err != nil {
		return err
	}

	row, keys, err := s.scopeRow(info, data, keyFields)
	if err != nil {
		return err
	}

	query, args, err := buildUpsert(table, info, row, keys)
	if err != nil {
		return err
	}

	err = s.execWithRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return err
	}

	s.invalidate(table, keyValuesOf(row, keys))
	return nil
}

// BatchUpsert wraps the upserts in one immediate-lock transaction. Any
// failure rolls the whole batch back.
func (s *Store) BatchUpsert(ctx context.Context, table string, rows []map[string]any, keyFields []string) error {
	info, err := s.resolve(table)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	type stmt struct {
		query string
		args  []any
		keys  []any
	}
	stmts := make([]stmt, 0, len(rows))
	for _, data := range rows {
		row, keys, scopeErr := s.scopeRow(info, data, keyFields)
		if scopeErr != nil {
			return scopeErr
		}
		query, args, buildErr := buildUpsert(table, info, row, keys)
		if buildErr != nil {
			return buildErr
		}
		stmts = append(stmts, stmt{query: query, args: args, keys: keyValuesOf(row, keys)})
	}

	err = s.execWithRetry(ctx, func() error {
		return s.db.WithImmediateTx(ctx, func(conn *sqlx.Conn) error {
			for _, st := range stmts {
				if _, execErr := conn.ExecContext(ctx, st.query, st.args...); execErr != nil {
					return execErr
				}
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	for _, st := range stmts {
		s.invalidate(table, st.keys)
	}
	return nil
}

// Get returns one row by key, or nil when absent. Soft-deleted rows are
// hidden unless includeDeleted is set.
func (s *Store) Get(ctx context.Context, table string, keyFields []string, keyValues []any, includeDeleted bool) (map[string]any, error) {
	info, err := s.resolve(table)
	if err != nil {
		return nil, err
	}
	if len(keyFields) != len(keyValues) {
		return nil, apperrors.ValidationError("keyFields and keyValues length mismatch")
	}

	keyFields, keyValues = s.scopeKeys(info, keyFields, keyValues)

	cacheKey := PointKey(table, keyValues)
	if !includeDeleted {
		if cached, ok := s.cache.Get(cacheKey); ok {
			if row, ok := cached.(map[string]any); ok {
				return row, nil
			}
		}
	}

	where, err := buildWhereEq(keyFields)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s", table, where)
	if info.soft && !includeDeleted {
		query += " AND deleted = 0"
	}

	row := map[string]any{}
	err = s.db.QueryRowxContext(ctx, query, keyValues...).MapScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	normalizeRow(row)

	if !includeDeleted {
		s.cache.Set(cacheKey, row)
	}
	return row, nil
}

// All returns the rows matching where (empty for all rows in scope), newest
// first by updated_at. List results are cached per (where, args).
func (s *Store) All(ctx context.Context, table, where string, args []any, includeDeleted bool) ([]map[string]any, error) {
	info, err := s.resolve(table)
	if err != nil {
		return nil, err
	}

	clauses := make([]string, 0, 3)
	finalArgs := make([]any, 0, len(args)+1)
	if info.scopeCol != "" {
		clauses = append(clauses, info.scopeCol+" = ?")
		finalArgs = append(finalArgs, s.sessionID)
	}
	if where != "" {
		clauses = append(clauses, "("+where+")")
		finalArgs = append(finalArgs, args...)
	}
	if info.soft && !includeDeleted {
		clauses = append(clauses, "deleted = 0")
	}

	cacheKey := ListKey(table, where+fmt.Sprintf("|deleted=%t", includeDeleted), finalArgs)
	if cached, ok := s.cache.Get(cacheKey); ok {
		if rows, ok := cached.([]map[string]any); ok {
			return rows, nil
		}
	}

	query := "SELECT * FROM " + table
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	orderCol := "updated_at"
	if info.appendOnly {
		orderCol = "created_at"
	}
	query += " ORDER BY " + orderCol + " DESC"

	dbRows, err := s.db.QueryxContext(ctx, query, finalArgs...)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	defer dbRows.Close()

	rows := make([]map[string]any, 0)
	for dbRows.Next() {
		row := map[string]any{}
		if err := dbRows.MapScan(row); err != nil {
			return nil, apperrors.Database(err)
		}
		normalizeRow(row)
		rows = append(rows, row)
	}
	if err := dbRows.Err(); err != nil {
		return nil, apperrors.Database(err)
	}

	s.cache.Set(cacheKey, rows)
	return rows, nil
}

// Delete soft-deletes soft-deletable tables by default, hard-deletes
// otherwise. Matching cache entries are always invalidated.
func (s *Store) Delete(ctx context.Context, table string, keyFields []string, keyValues []any, soft bool) error {
	info, err := s.resolve(table)
	if err != nil {
		return err
	}
	if len(keyFields) != len(keyValues) {
		return apperrors.ValidationError("keyFields and keyValues length mismatch")
	}

	keyFields, keyValues = s.scopeKeys(info, keyFields, keyValues)

	where, err := buildWhereEq(keyFields)
	if err != nil {
		return err
	}

	var query string
	var args []any
	if soft && info.soft {
		now := time.Now().UTC()
		query = fmt.Sprintf("UPDATE %s SET deleted = 1, deleted_at = ?, updated_at = ? WHERE %s", table, where)
		args = append([]any{now, now}, keyValues...)
	} else {
		query = fmt.Sprintf("DELETE FROM %s WHERE %s", table, where)
		args = keyValues
	}

	err = s.execWithRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return err
	}

	s.invalidate(table, keyValues)
	return nil
}

// PurgeSoftDeleted physically removes rows soft-deleted before cutoff,
// implementing the retention rule. On the global store it sweeps every
// session's rows.
func (s *Store) PurgeSoftDeleted(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.closed.Load() {
		return 0, apperrors.StoreClosed()
	}

	var total int64
	for table, info := range tables {
		if !info.soft {
			continue
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE deleted = 1 AND deleted_at < ?", table)
		args := []any{cutoff}
		if s.sessionID != "" {
			query += fmt.Sprintf(" AND %s = ?", info.scopeCol)
			args = append(args, s.sessionID)
		}
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, apperrors.Database(err)
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			total += n
			s.cache.InvalidatePrefix(table + ":")
		}
	}
	return total, nil
}

// scopeRow injects the owning session id into the row and guarantees the
// scope column is part of the conflict key.
func (s *Store) scopeRow(info tableInfo, data map[string]any, keyFields []string) (map[string]any, []string, error) {
	if len(keyFields) == 0 {
		return nil, nil, apperrors.MissingRequired("keyFields")
	}

	row := make(map[string]any, len(data)+1)
	for k, v := range data {
		row[k] = v
	}

	keys := append([]string(nil), keyFields...)
	if info.scopeCol != "" {
		row[info.scopeCol] = s.sessionID
		if !containsString(keys, info.scopeCol) {
			keys = append([]string{info.scopeCol}, keys...)
		}
	}

	for _, k := range keys {
		if _, ok := row[k]; !ok {
			return nil, nil, apperrors.MissingRequired(k)
		}
	}
	return row, keys, nil
}

func (s *Store) scopeKeys(info tableInfo, keyFields []string, keyValues []any) ([]string, []any) {
	if info.scopeCol == "" || containsString(keyFields, info.scopeCol) {
		return keyFields, keyValues
	}
	return append([]string{info.scopeCol}, keyFields...), append([]any{s.sessionID}, keyValues...)
}

func (s *Store) invalidate(table string, keyValues []any) {
	s.cache.Invalidate(PointKey(table, keyValues))
	s.cache.InvalidatePrefix(ListPrefix(table))
}

// execWithRetry retries transient lock contention with linear backoff before
// surfacing the failure.
func (s *Store) execWithRetry(ctx context.Context, run func() error) error {
	err := run()
	if err == nil || !isBusy(err) {
		return wrapDBErr(err)
	}

	for attempt := 1; attempt <= config.StoreWriteRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(config.StoreRetryBaseDelay * time.Duration(attempt)):
		}
		err = run()
		if err == nil || !isBusy(err) {
			return wrapDBErr(err)
		}
	}
	return apperrors.StoreBusy(err)
}

func wrapDBErr(err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.Database(err)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

// buildUpsert renders INSERT ... ON CONFLICT(keys) DO UPDATE SET for every
// non-key column. created_at is written on insert only; updated_at on both.
func buildUpsert(table string, info tableInfo, row map[string]any, keyFields []string) (string, []any, error) {
	now := time.Now().UTC()
	if !info.appendOnly {
		row["updated_at"] = now
	}
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = now
	}

	cols := make([]string, 0, len(row))
	for col := range row {
		if !identRegex.MatchString(col) {
			return "", nil, apperrors.InvalidInput("column", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = "?"
		args[i] = row[col]
	}

	updates := make([]string, 0, len(cols))
	for _, col := range cols {
		if containsString(keyFields, col) || col == "created_at" {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}

	conflict := fmt.Sprintf("ON CONFLICT(%s) DO NOTHING", strings.Join(keyFields, ", "))
	if len(updates) > 0 {
		conflict = fmt.Sprintf("ON CONFLICT(%s) DO UPDATE SET %s",
			strings.Join(keyFields, ", "), strings.Join(updates, ", "))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) %s",
		table,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		conflict,
	)
	return query, args, nil
}

func buildWhereEq(keyFields []string) (string, error) {
	parts := make([]string, len(keyFields))
	for i, col := range keyFields {
		if !identRegex.MatchString(col) {
			return "", apperrors.InvalidInput("column", col)
		}
		parts[i] = col + " = ?"
	}
	return strings.Join(parts, " AND "), nil
}

func keyValuesOf(row map[string]any, keyFields []string) []any {
	values := make([]any, len(keyFields))
	for i, k := range keyFields {
		values[i] = row[k]
	}
	return values
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// normalizeRow converts driver byte slices to strings so cached rows compare
// and serialize predictably.
func normalizeRow(row map[string]any) {
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}
}
