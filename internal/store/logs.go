package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// SchemaVersion is stored per site under VersionOption once the log
	// table has every column LogRecord needs.
	SchemaVersion = "0.3"
	VersionOption = "email-log-db"

	DefaultPageSize = 20

	SentDateLayout = "2006-01-02 15:04:05"
	dateLayout     = "2006-01-02"
	tableSuffix    = "email_log"
)

var sortColumns = map[string]string{
	"sent_date": "sent_date",
	"to_email":  "to_email",
	"subject":   "subject",
}

const (
	defaultSortColumn    = "sent_date"
	defaultSortDirection = "DESC"
)

// LogStore owns the per-site email log tables.
type LogStore struct {
	store  *Store
	prefix string
	loc    *time.Location
	now    func() time.Time
}

type LogStoreOption func(*LogStore)

// WithClock overrides the time source used for sent_date.
func WithClock(now func() time.Time) LogStoreOption {
	return func(l *LogStore) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogStore builds a LogStore naming tables with prefix and stamping
// entries in site-local time loc.
func NewLogStore(s *Store, prefix string, loc *time.Location, opts ...LogStoreOption) (*LogStore, error) {
	if !validIdentifier(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	if loc == nil {
		loc = time.Local
	}
	l := &LogStore{store: s, prefix: prefix, loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// TableName returns the log table of a site: the main site uses the bare
// prefix, every other site gets its id inserted.
func (l *LogStore) TableName(siteID int64) string {
	if siteID == MainSiteID {
		return l.prefix + tableSuffix
	}
	return l.prefix + strconv.FormatInt(siteID, 10) + "_" + tableSuffix
}

// TablePrefix returns the per-site prefix, e.g. "wp_" or "wp_3_".
func (l *LogStore) TablePrefix(siteID int64) string {
	if siteID == MainSiteID {
		return l.prefix
	}
	return l.prefix + strconv.FormatInt(siteID, 10) + "_"
}

// ProvisionTable creates the site's log table when it does not exist and
// upgrades older tables in place. It never touches existing rows and may be
// called on every activation.
func (l *LogStore) ProvisionTable(ctx context.Context, siteID int64) error {
	table := quoteIdent(l.TableName(siteID))

	tx, err := l.store.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer tx.Rollback()

	exists, err := tableExists(ctx, tx, l.TableName(siteID))
	if err != nil {
		return err
	}
	if !exists {
		statements := []string{
			`CREATE TABLE ` + table + ` (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            to_email TEXT NOT NULL DEFAULT '',
            subject TEXT NOT NULL DEFAULT '',
            message TEXT NOT NULL DEFAULT '',
            headers TEXT NOT NULL DEFAULT '',
            attachments TEXT NOT NULL DEFAULT 'false',
            sent_date TEXT NOT NULL,
            result INTEGER NULL,
            error_message TEXT NULL
        );`,
			`CREATE INDEX IF NOT EXISTS ` + quoteIdent("idx_"+l.TableName(siteID)+"_sent_date") + ` ON ` + table + `(sent_date);`,
		}
		for _, statement := range statements {
			if _, err := tx.ExecContext(ctx, statement); err != nil {
				return storageErr("create log table", err)
			}
		}
	} else if err := upgradeTable(ctx, tx, table); err != nil {
		return err
	}

	version, ok, err := l.store.getOption(ctx, tx, siteID, VersionOption)
	if err != nil {
		return err
	}
	if !ok || version != SchemaVersion {
		if err := l.store.setOption(ctx, tx, siteID, VersionOption, SchemaVersion); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit provision", err)
	}
	return nil
}

// upgradeTable adds the result columns to tables created before they
// existed.
func upgradeTable(ctx context.Context, tx *sql.Tx, table string) error {
	rows, err := tx.QueryContext(ctx, `PRAGMA table_info(`+table+`);`)
	if err != nil {
		return storageErr("inspect log table", err)
	}
	columns := map[string]bool{}
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			rows.Close()
			return storageErr("inspect log table", err)
		}
		columns[name] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return storageErr("inspect log table", err)
	}
	rows.Close()

	if !columns["result"] {
		if _, err := tx.ExecContext(ctx, `ALTER TABLE `+table+` ADD COLUMN result INTEGER NULL;`); err != nil {
			return storageErr("upgrade log table", err)
		}
	}
	if !columns["error_message"] {
		if _, err := tx.ExecContext(ctx, `ALTER TABLE `+table+` ADD COLUMN error_message TEXT NULL;`); err != nil {
			return storageErr("upgrade log table", err)
		}
	}
	return nil
}

// DeprovisionTable appends the site's log table to the list the host drops
// when it tears the site down.
func (l *LogStore) DeprovisionTable(siteID int64, tables []string) []string {
	return append(tables, l.TableName(siteID))
}

// SiteCreated provisions the new site's table.
func (l *LogStore) SiteCreated(ctx context.Context, siteID int64) error {
	return l.ProvisionTable(ctx, siteID)
}

// SiteRemoving hands the site's table to the host teardown.
func (l *LogStore) SiteRemoving(siteID int64, tables []string) []string {
	return l.DeprovisionTable(siteID, tables)
}

// Table returns the accessor for one site's log table.
func (l *LogStore) Table(siteID int64) *Table {
	return &Table{
		db:    l.store.db,
		name:  quoteIdent(l.TableName(siteID)),
		site:  siteID,
		loc:   l.loc,
		clock: l.now,
	}
}

// Table reads and writes a single site's log entries.
type Table struct {
	db    *sql.DB
	name  string // quoted
	site  int64
	loc   *time.Location
	clock func() time.Time
}

// Site returns the id of the site this table belongs to.
func (t *Table) Site() int64 {
	return t.site
}

const selectColumns = `id, to_email, subject, message, headers, attachments, sent_date, result, error_message`

// Insert appends rec and returns its id. rec.ID and rec.SentDate are
// ignored: the id is assigned by the table and sent_date is now in site
// time.
func (t *Table) Insert(ctx context.Context, rec LogRecord) (int64, error) {
	stored, err := t.InsertRecord(ctx, rec)
	if err != nil {
		return 0, err
	}
	return stored.ID, nil
}

// InsertRecord is Insert returning the entry as stored, with its id and
// sent_date filled in.
func (t *Table) InsertRecord(ctx context.Context, rec LogRecord) (LogRecord, error) {
	sentDate := t.clock().In(t.loc).Format(SentDateLayout)

	var result, errorMessage any
	switch rec.Result {
	case ResultSent:
		result = 1
		rec.ErrorMessage = ""
	case ResultFailed:
		result = 0
		errorMessage = rec.ErrorMessage
	default:
		rec.ErrorMessage = ""
	}

	res, err := t.db.ExecContext(ctx, `INSERT INTO `+t.name+`
        (to_email, subject, message, headers, attachments, sent_date, result, error_message)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.ToEmail,
		rec.Subject,
		rec.Message,
		rec.Headers,
		strconv.FormatBool(rec.Attachments),
		sentDate,
		result,
		errorMessage,
	)
	if err != nil {
		return LogRecord{}, storageErr("insert log", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return LogRecord{}, storageErr("insert log", err)
	}
	rec.ID = id
	rec.SentDate, _ = time.ParseInLocation(SentDateLayout, sentDate, t.loc)
	return rec, nil
}

// FetchPage returns one page of entries matching filter and the number of
// matching entries across all pages.
func (t *Table) FetchPage(ctx context.Context, filter Filter, sort Sort, pageNo, pageSize int) ([]LogRecord, int, error) {
	if pageNo < 1 {
		pageNo = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	orderBy := orderClause(sort)
	whereQuery, args := whereClause(filter)

	var total int
	if err := t.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM "+t.name+whereQuery, args...).Scan(&total); err != nil {
		return nil, 0, storageErr("count logs", err)
	}

	listQuery := "SELECT " + selectColumns + " FROM " + t.name + whereQuery + orderBy + " LIMIT ? OFFSET ?"
	listArgs := append([]any{}, args...)
	listArgs = append(listArgs, pageSize, (pageNo-1)*pageSize)

	records, err := t.query(ctx, "list logs", listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// FetchByIDs returns the entries whose id is in ids, in id order. Unknown
// ids are ignored.
func (t *Table) FetchByIDs(ctx context.Context, ids []int64) ([]LogRecord, error) {
	if len(ids) == 0 {
		return []LogRecord{}, nil
	}
	list, err := idList(ids)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + selectColumns + " FROM " + t.name + " WHERE id IN (SELECT value FROM json_each(?)) ORDER BY id"
	return t.query(ctx, "fetch logs", query, list)
}

// DeleteByIDs removes the entries whose id is in ids and returns how many
// rows were removed.
func (t *Table) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	list, err := idList(ids)
	if err != nil {
		return 0, err
	}
	result, err := t.db.ExecContext(ctx, "DELETE FROM "+t.name+" WHERE id IN (SELECT value FROM json_each(?));", list)
	if err != nil {
		return 0, storageErr("delete logs", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("delete logs", err)
	}
	return affected, nil
}

// DeleteAll removes every entry of the site.
func (t *Table) DeleteAll(ctx context.Context) (int64, error) {
	result, err := t.db.ExecContext(ctx, "DELETE FROM "+t.name+";")
	if err != nil {
		return 0, storageErr("delete all logs", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("delete all logs", err)
	}
	return affected, nil
}

func (t *Table) CountAll(ctx context.Context) (int, error) {
	var count int
	if err := t.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM "+t.name+";").Scan(&count); err != nil {
		return 0, storageErr("count logs", err)
	}
	return count, nil
}

// CountByResult counts sent or failed entries. ClassAny counts everything.
func (t *Table) CountByResult(ctx context.Context, class ResultClass) (int, error) {
	whereQuery, args := whereClause(Filter{Result: class})
	var count int
	if err := t.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM "+t.name+whereQuery, args...).Scan(&count); err != nil {
		return 0, storageErr("count logs", err)
	}
	return count, nil
}

func (t *Table) query(ctx context.Context, op, query string, args ...any) ([]LogRecord, error) {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	records := []LogRecord{}
	for rows.Next() {
		var (
			rec          LogRecord
			attachments  string
			sentDate     string
			result       sql.NullBool
			errorMessage sql.NullString
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.ToEmail,
			&rec.Subject,
			&rec.Message,
			&rec.Headers,
			&attachments,
			&sentDate,
			&result,
			&errorMessage,
		); err != nil {
			return nil, storageErr(op, err)
		}
		rec.Attachments = attachments == "true"
		if parsed, err := time.ParseInLocation(SentDateLayout, sentDate, t.loc); err == nil {
			rec.SentDate = parsed
		}
		switch {
		case !result.Valid:
			rec.Result = ResultUnknown
		case result.Bool:
			rec.Result = ResultSent
		default:
			rec.Result = ResultFailed
			rec.ErrorMessage = errorMessage.String
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return records, nil
}

// orderClause maps an untrusted sort onto the allow-list. Unknown columns
// or directions fall back to sent_date DESC.
func orderClause(sort Sort) string {
	column, ok := sortColumns[strings.ToLower(strings.TrimSpace(sort.Column))]
	direction := strings.ToUpper(strings.TrimSpace(sort.Direction))
	if !ok {
		column = defaultSortColumn
		direction = defaultSortDirection
	}
	if direction != "ASC" && direction != "DESC" {
		direction = defaultSortDirection
	}
	return " ORDER BY " + column + " " + direction + ", id " + direction
}

func whereClause(filter Filter) (string, []any) {
	var conditions []string
	var args []any

	if term := strings.TrimSpace(filter.Term); term != "" {
		pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
		conditions = append(conditions, `(`+foldFunc+`(to_email) LIKE ? ESCAPE '\' OR `+foldFunc+`(subject) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if date := strings.TrimSpace(filter.Date); date != "" {
		if parsed, err := time.Parse(dateLayout, date); err == nil {
			conditions = append(conditions, "substr(sent_date, 1, 10) = ?")
			args = append(args, parsed.Format(dateLayout))
		}
	}
	switch filter.Result {
	case ClassSent:
		conditions = append(conditions, "result = 1")
	case ClassFailed:
		conditions = append(conditions, "result = 0")
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func escapeLike(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(term)
}

// idList encodes ids as one JSON array parameter, so the statement binds a
// single variable however many ids are given.
func idList(ids []int64) (string, error) {
	encoded, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode ids: %w", err)
	}
	return string(encoded), nil
}
