package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func testLogStore(t *testing.T, opts ...LogStoreOption) (*Store, *LogStore) {
	t.Helper()
	s := testStore(t)
	logs, err := NewLogStore(s, "wp_", time.UTC, opts...)
	if err != nil {
		t.Fatalf("NewLogStore: %v", err)
	}
	if err := logs.ProvisionTable(context.Background(), MainSiteID); err != nil {
		t.Fatalf("ProvisionTable: %v", err)
	}
	return s, logs
}

// stepClock returns a clock that advances one minute per call.
func stepClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		now := current
		current = current.Add(time.Minute)
		return now
	}
}

func insertAll(t *testing.T, table *Table, records ...LogRecord) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		id, err := table.Insert(context.Background(), rec)
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestNewLogStoreRejectsBadPrefix(t *testing.T) {
	s := testStore(t)
	for _, prefix := range []string{"", "wp-", `wp"`, "wp ;"} {
		if _, err := NewLogStore(s, prefix, time.UTC); err == nil {
			t.Errorf("expected error for prefix %q", prefix)
		}
	}
}

func TestTableName(t *testing.T) {
	_, logs := testLogStore(t)
	if got := logs.TableName(1); got != "wp_email_log" {
		t.Errorf("TableName(1) = %q", got)
	}
	if got := logs.TableName(3); got != "wp_3_email_log" {
		t.Errorf("TableName(3) = %q", got)
	}
	if got := logs.TablePrefix(3); got != "wp_3_" {
		t.Errorf("TablePrefix(3) = %q", got)
	}
}

func TestProvisionTableIsIdempotent(t *testing.T) {
	s, logs := testLogStore(t)
	ctx := context.Background()
	table := logs.Table(MainSiteID)
	insertAll(t, table, LogRecord{ToEmail: "a@x.com"}, LogRecord{ToEmail: "b@x.com"})

	if err := logs.ProvisionTable(ctx, MainSiteID); err != nil {
		t.Fatalf("second ProvisionTable: %v", err)
	}
	if err := logs.ProvisionTable(ctx, MainSiteID); err != nil {
		t.Fatalf("third ProvisionTable: %v", err)
	}
	count, err := table.CountAll(ctx)
	if err != nil {
		t.Fatalf("CountAll: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows after re-provisioning, got %d", count)
	}
	version, ok, _ := s.GetOption(ctx, MainSiteID, VersionOption)
	if !ok || version != SchemaVersion {
		t.Fatalf("expected version %s, got %q ok=%v", SchemaVersion, version, ok)
	}
}

func TestProvisionTableUpgradesLegacyTable(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	logs, _ := NewLogStore(s, "wp_", time.UTC)

	legacy := `CREATE TABLE "wp_email_log" (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        to_email TEXT NOT NULL DEFAULT '',
        subject TEXT NOT NULL DEFAULT '',
        message TEXT NOT NULL DEFAULT '',
        headers TEXT NOT NULL DEFAULT '',
        attachments TEXT NOT NULL DEFAULT 'false',
        sent_date TEXT NOT NULL
    );`
	if _, err := s.db.ExecContext(ctx, legacy); err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO "wp_email_log" (to_email, sent_date) VALUES ('old@x.com', '2020-01-01 10:00:00');`); err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}
	s.SetOption(ctx, MainSiteID, VersionOption, "0.2")

	if err := logs.ProvisionTable(ctx, MainSiteID); err != nil {
		t.Fatalf("ProvisionTable: %v", err)
	}
	records, err := logs.Table(MainSiteID).FetchByIDs(ctx, []int64{1})
	if err != nil {
		t.Fatalf("FetchByIDs: %v", err)
	}
	if len(records) != 1 || records[0].Result != ResultUnknown {
		t.Fatalf("legacy row should survive with unknown result, got %+v", records)
	}
	version, _, _ := s.GetOption(ctx, MainSiteID, VersionOption)
	if version != SchemaVersion {
		t.Fatalf("expected upgraded version, got %q", version)
	}
}

func TestDeprovisionTableOnlyAppends(t *testing.T) {
	s, logs := testLogStore(t)
	ctx := context.Background()
	if err := logs.ProvisionTable(ctx, 5); err != nil {
		t.Fatalf("ProvisionTable: %v", err)
	}

	got := logs.DeprovisionTable(5, []string{"wp_5_posts"})
	if len(got) != 2 || got[0] != "wp_5_posts" || got[1] != "wp_5_email_log" {
		t.Fatalf("unexpected drop list %v", got)
	}
	if exists, _ := s.TableExists(ctx, "wp_5_email_log"); !exists {
		t.Fatal("DeprovisionTable must not drop the table itself")
	}
}

func TestInsertAndFetch(t *testing.T) {
	start := time.Date(2024, 3, 9, 22, 15, 0, 0, time.UTC)
	_, logs := testLogStore(t, WithClock(func() time.Time { return start }))
	ctx := context.Background()
	table := logs.Table(MainSiteID)

	ids := insertAll(t, table,
		LogRecord{ToEmail: "a@x.com", Subject: "s", Message: "m", Headers: "From: f@x.com\r\n", Attachments: true, Result: ResultSent},
		LogRecord{ToEmail: "b@x.com", Result: ResultFailed, ErrorMessage: "smtp timeout"},
		LogRecord{ToEmail: "c@x.com", ErrorMessage: "ignored"},
	)
	if ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("unexpected ids %v", ids)
	}

	records, err := table.FetchByIDs(ctx, ids)
	if err != nil {
		t.Fatalf("FetchByIDs: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	first := records[0]
	if first.ToEmail != "a@x.com" || first.Subject != "s" || first.Message != "m" || first.Headers != "From: f@x.com\r\n" || !first.Attachments {
		t.Errorf("unexpected first record %+v", first)
	}
	if !first.SentDate.Equal(start) {
		t.Errorf("SentDate = %v; want %v", first.SentDate, start)
	}
	if first.Result != ResultSent {
		t.Errorf("first result = %v", first.Result)
	}
	if records[1].Result != ResultFailed || records[1].ErrorMessage != "smtp timeout" {
		t.Errorf("unexpected failed record %+v", records[1])
	}
	if records[2].Result != ResultUnknown || records[2].ErrorMessage != "" {
		t.Errorf("unexpected unknown record %+v", records[2])
	}
}

func TestInsertRecordReturnsStoredEntry(t *testing.T) {
	at := time.Date(2024, 2, 29, 23, 59, 58, 500, time.UTC)
	_, logs := testLogStore(t, WithClock(func() time.Time { return at }))
	table := logs.Table(MainSiteID)

	stored, err := table.InsertRecord(context.Background(), LogRecord{
		ToEmail:      "a@x.com",
		Result:       ResultSent,
		ErrorMessage: "ignored for sent mail",
	})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if stored.ID != 1 || stored.ErrorMessage != "" {
		t.Fatalf("unexpected stored entry %+v", stored)
	}
	if want := at.Truncate(time.Second); !stored.SentDate.Equal(want) {
		t.Fatalf("SentDate = %v; want %v", stored.SentDate, want)
	}
	fetched, _ := table.FetchByIDs(context.Background(), []int64{stored.ID})
	if len(fetched) != 1 || !fetched[0].SentDate.Equal(stored.SentDate) {
		t.Fatalf("stored entry differs from fetched %+v", fetched)
	}
}

func TestInsertUsesSiteLocalTime(t *testing.T) {
	s := testStore(t)
	loc := time.FixedZone("IST", 5*3600+30*60)
	instant := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)
	logs, _ := NewLogStore(s, "wp_", loc, WithClock(func() time.Time { return instant }))
	ctx := context.Background()
	logs.ProvisionTable(ctx, MainSiteID)
	table := logs.Table(MainSiteID)
	insertAll(t, table, LogRecord{ToEmail: "a@x.com"})

	records, total, err := table.FetchPage(ctx, Filter{Date: "2024-01-02"}, Sort{}, 1, 10)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if total != 1 || len(records) != 1 {
		t.Fatalf("expected the entry on the local date, got total=%d", total)
	}
	if !records[0].SentDate.Equal(instant) {
		t.Fatalf("SentDate = %v; want %v", records[0].SentDate, instant)
	}
}

func TestFetchPageSearchScenario(t *testing.T) {
	_, logs := testLogStore(t)
	ctx := context.Background()
	table := logs.Table(MainSiteID)
	insertAll(t, table,
		LogRecord{ToEmail: "a@x.com", Subject: "hi"},
		LogRecord{ToEmail: "b@x.com", Subject: "hi"},
		LogRecord{ToEmail: "a@x.com", Subject: "hi"},
	)

	records, total, err := table.FetchPage(ctx, Filter{Term: "a@x.com"}, Sort{Column: "sent_date", Direction: "ASC"}, 1, 20)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if total != 2 || len(records) != 2 {
		t.Fatalf("expected 2 matches, got total=%d len=%d", total, len(records))
	}
	if records[0].ID != 1 || records[1].ID != 3 {
		t.Fatalf("expected ids 1 and 3, got %d and %d", records[0].ID, records[1].ID)
	}
}

func TestFetchPageSearchMatchesSubjectCaseInsensitive(t *testing.T) {
	_, logs := testLogStore(t)
	table := logs.Table(MainSiteID)
	insertAll(t, table,
		LogRecord{ToEmail: "a@x.com", Subject: "Password Reset"},
		LogRecord{ToEmail: "b@x.com", Subject: "Welcome"},
		LogRecord{ToEmail: "c@x.com", Subject: "100% off_sale"},
	)

	tests := []struct {
		term string
		want int
	}{
		{"password", 1},
		{"WELCOME", 1},
		{"x.com", 3},
		{"%", 1},
		{"_", 1},
		{"nomatch", 0},
	}
	for _, tc := range tests {
		_, total, err := table.FetchPage(context.Background(), Filter{Term: tc.term}, Sort{}, 1, 20)
		if err != nil {
			t.Fatalf("FetchPage(%q): %v", tc.term, err)
		}
		if total != tc.want {
			t.Errorf("term %q: total = %d; want %d", tc.term, total, tc.want)
		}
	}
}

func TestFetchPageSearchFoldsUnicodeCase(t *testing.T) {
	_, logs := testLogStore(t)
	table := logs.Table(MainSiteID)
	insertAll(t, table,
		LogRecord{ToEmail: "zoë@x.com", Subject: "Ünïcode Grüße"},
		LogRecord{ToEmail: "ivan@x.com", Subject: "Привет"},
		LogRecord{ToEmail: "plain@x.com", Subject: "ascii"},
	)

	tests := []struct {
		term string
		want int
	}{
		{"ÜNÏCODE", 1},
		{"ünïcode", 1},
		{"ZOË", 1},
		{"привет", 1},
		{"ПРИВЕТ", 1},
		{"ASCII", 1},
	}
	for _, tc := range tests {
		_, total, err := table.FetchPage(context.Background(), Filter{Term: tc.term}, Sort{}, 1, 20)
		if err != nil {
			t.Fatalf("FetchPage(%q): %v", tc.term, err)
		}
		if total != tc.want {
			t.Errorf("term %q: total = %d; want %d", tc.term, total, tc.want)
		}
	}
}

func TestFetchPageSecondPage(t *testing.T) {
	_, logs := testLogStore(t)
	table := logs.Table(MainSiteID)
	insertAll(t, table, LogRecord{ToEmail: "1@x.com"}, LogRecord{ToEmail: "2@x.com"}, LogRecord{ToEmail: "3@x.com"})

	records, total, err := table.FetchPage(context.Background(), Filter{}, Sort{}, 2, 2)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d; want 3", total)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record on page 2, got %d", len(records))
	}
}

func TestFetchPageCoversEveryRecordOnce(t *testing.T) {
	_, logs := testLogStore(t, WithClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }))
	table := logs.Table(MainSiteID)
	const n = 23
	for i := 0; i < n; i++ {
		insertAll(t, table, LogRecord{ToEmail: fmt.Sprintf("user%02d@x.com", i%5), Subject: "same"})
	}

	sorts := []Sort{{}, {Column: "to_email", Direction: "ASC"}, {Column: "subject", Direction: "DESC"}}
	for _, sort := range sorts {
		for _, size := range []int{1, 4, 7, 23, 50} {
			seen := map[int64]int{}
			pages := (n + size - 1) / size
			for page := 1; page <= pages; page++ {
				records, total, err := table.FetchPage(context.Background(), Filter{}, sort, page, size)
				if err != nil {
					t.Fatalf("FetchPage: %v", err)
				}
				if total != n {
					t.Fatalf("total = %d; want %d", total, n)
				}
				for _, rec := range records {
					seen[rec.ID]++
				}
			}
			if len(seen) != n {
				t.Errorf("sort %+v size %d: saw %d distinct records; want %d", sort, size, len(seen), n)
			}
			for id, count := range seen {
				if count != 1 {
					t.Errorf("sort %+v size %d: record %d seen %d times", sort, size, id, count)
				}
			}
		}
	}
}

func TestFetchPageSortAllowList(t *testing.T) {
	_, logs := testLogStore(t, WithClock(stepClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))))
	table := logs.Table(MainSiteID)
	insertAll(t, table,
		LogRecord{ToEmail: "c@x.com", Subject: "a"},
		LogRecord{ToEmail: "a@x.com", Subject: "c"},
		LogRecord{ToEmail: "b@x.com", Subject: "b"},
	)
	ctx := context.Background()

	ids := func(sort Sort) []int64 {
		t.Helper()
		records, _, err := table.FetchPage(ctx, Filter{}, sort, 1, 10)
		if err != nil {
			t.Fatalf("FetchPage(%+v): %v", sort, err)
		}
		out := make([]int64, 0, len(records))
		for _, rec := range records {
			out = append(out, rec.ID)
		}
		return out
	}
	equal := func(a, b []int64) bool {
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}

	defaultOrder := []int64{3, 2, 1}
	tests := []struct {
		sort Sort
		want []int64
	}{
		{Sort{}, defaultOrder},
		{Sort{Column: "to_email", Direction: "asc"}, []int64{2, 3, 1}},
		{Sort{Column: "subject", Direction: "DESC"}, []int64{2, 3, 1}},
		{Sort{Column: "sent_date", Direction: "ASC"}, []int64{1, 2, 3}},
		{Sort{Column: "to_email", Direction: "sideways"}, []int64{1, 3, 2}},
		{Sort{Column: "message", Direction: "ASC"}, defaultOrder},
		{Sort{Column: "id; DROP TABLE wp_email_log", Direction: "ASC"}, defaultOrder},
		{Sort{Column: "(SELECT 1)", Direction: "ASC"}, defaultOrder},
	}
	for _, tc := range tests {
		if got := ids(tc.sort); !equal(got, tc.want) {
			t.Errorf("sort %+v: got %v; want %v", tc.sort, got, tc.want)
		}
	}
	if count, _ := table.CountAll(ctx); count != 3 {
		t.Fatalf("table damaged, count = %d", count)
	}
}

func TestFetchPageFilters(t *testing.T) {
	days := []time.Time{
		time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 23, 59, 0, 0, time.UTC),
		time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC),
	}
	i := 0
	_, logs := testLogStore(t, WithClock(func() time.Time {
		now := days[i%len(days)]
		i++
		return now
	}))
	table := logs.Table(MainSiteID)
	insertAll(t, table,
		LogRecord{ToEmail: "a@x.com", Result: ResultSent},
		LogRecord{ToEmail: "b@x.com", Result: ResultFailed, ErrorMessage: "boom"},
		LogRecord{ToEmail: "c@x.com"},
	)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"no filter", Filter{}, 3},
		{"date", Filter{Date: "2024-02-01"}, 2},
		{"other date", Filter{Date: "2024-02-02"}, 1},
		{"invalid date ignored", Filter{Date: "yesterday"}, 3},
		{"sent", Filter{Result: ClassSent}, 1},
		{"failed", Filter{Result: ClassFailed}, 1},
		{"failed on date", Filter{Result: ClassFailed, Date: "2024-02-01"}, 1},
		{"term and date", Filter{Term: "c@", Date: "2024-02-01"}, 0},
	}
	for _, tc := range tests {
		_, total, err := table.FetchPage(ctx, tc.filter, Sort{}, 1, 10)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if total != tc.want {
			t.Errorf("%s: total = %d; want %d", tc.name, total, tc.want)
		}
	}
}

func TestFetchPageNormalizesPaging(t *testing.T) {
	_, logs := testLogStore(t)
	table := logs.Table(MainSiteID)
	for i := 0; i < DefaultPageSize+5; i++ {
		insertAll(t, table, LogRecord{ToEmail: "a@x.com"})
	}
	records, _, err := table.FetchPage(context.Background(), Filter{}, Sort{}, 0, 0)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(records) != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, len(records))
	}
}

func TestFetchByIDsEdgeCases(t *testing.T) {
	_, logs := testLogStore(t)
	table := logs.Table(MainSiteID)
	insertAll(t, table, LogRecord{ToEmail: "a@x.com"}, LogRecord{ToEmail: "b@x.com"})
	ctx := context.Background()

	records, err := table.FetchByIDs(ctx, nil)
	if err != nil || len(records) != 0 || records == nil {
		t.Fatalf("empty ids: records=%v err=%v", records, err)
	}
	records, err = table.FetchByIDs(ctx, []int64{0, 99})
	if err != nil || len(records) != 0 {
		t.Fatalf("dangling ids: records=%v err=%v", records, err)
	}
	records, _ = table.FetchByIDs(ctx, []int64{2, 99, 1})
	if len(records) != 2 || records[0].ID != 1 || records[1].ID != 2 {
		t.Fatalf("expected ids 1,2 in storage order, got %+v", records)
	}
}

func TestFetchAndDeleteByManyIDs(t *testing.T) {
	_, logs := testLogStore(t)
	table := logs.Table(MainSiteID)
	ctx := context.Background()
	insertAll(t, table, LogRecord{ToEmail: "a@x.com"}, LogRecord{ToEmail: "b@x.com"}, LogRecord{ToEmail: "c@x.com"})

	ids := make([]int64, 0, 40000)
	for id := int64(40000); id > 3; id-- {
		ids = append(ids, id)
	}
	ids = append(ids, 3, 1)

	records, err := table.FetchByIDs(ctx, ids)
	if err != nil {
		t.Fatalf("FetchByIDs: %v", err)
	}
	if len(records) != 2 || records[0].ID != 1 || records[1].ID != 3 {
		t.Fatalf("expected ids 1,3, got %+v", records)
	}

	deleted, err := table.DeleteByIDs(ctx, ids)
	if err != nil {
		t.Fatalf("DeleteByIDs: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d; want 2", deleted)
	}
	if count, _ := table.CountAll(ctx); count != 1 {
		t.Fatalf("count = %d; want 1", count)
	}
}

func TestDeleteByIDs(t *testing.T) {
	_, logs := testLogStore(t)
	ctx := context.Background()
	table := logs.Table(MainSiteID)
	ids := insertAll(t, table, LogRecord{ToEmail: "a@x.com"}, LogRecord{ToEmail: "b@x.com"})

	deleted, err := table.DeleteByIDs(ctx, []int64{ids[0], 404})
	if err != nil {
		t.Fatalf("DeleteByIDs: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d; want 1", deleted)
	}
	if records, _ := table.FetchByIDs(ctx, []int64{ids[0]}); len(records) != 0 {
		t.Fatal("deleted record still present")
	}
	if count, _ := table.CountAll(ctx); count != 1 {
		t.Fatalf("count = %d; want 1", count)
	}

	if deleted, err := table.DeleteByIDs(ctx, nil); err != nil || deleted != 0 {
		t.Fatalf("empty delete: deleted=%d err=%v", deleted, err)
	}
	if deleted, err := table.DeleteByIDs(ctx, []int64{404}); err != nil || deleted != 0 {
		t.Fatalf("unknown delete: deleted=%d err=%v", deleted, err)
	}
}

func TestDeleteAllAndCounts(t *testing.T) {
	_, logs := testLogStore(t)
	ctx := context.Background()
	table := logs.Table(MainSiteID)
	insertAll(t, table,
		LogRecord{ToEmail: "a@x.com", Result: ResultSent},
		LogRecord{ToEmail: "b@x.com", Result: ResultSent},
		LogRecord{ToEmail: "c@x.com", Result: ResultFailed},
		LogRecord{ToEmail: "d@x.com"},
	)

	if n, _ := table.CountAll(ctx); n != 4 {
		t.Errorf("CountAll = %d", n)
	}
	if n, _ := table.CountByResult(ctx, ClassSent); n != 2 {
		t.Errorf("CountByResult(sent) = %d", n)
	}
	if n, _ := table.CountByResult(ctx, ClassFailed); n != 1 {
		t.Errorf("CountByResult(failed) = %d", n)
	}

	deleted, err := table.DeleteAll(ctx)
	if err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if deleted != 4 {
		t.Fatalf("deleted = %d; want 4", deleted)
	}
	if n, _ := table.CountAll(ctx); n != 0 {
		t.Fatalf("CountAll after DeleteAll = %d", n)
	}
}

func TestIDsAreNotReused(t *testing.T) {
	_, logs := testLogStore(t)
	ctx := context.Background()
	table := logs.Table(MainSiteID)
	ids := insertAll(t, table, LogRecord{ToEmail: "a@x.com"}, LogRecord{ToEmail: "b@x.com"})
	table.DeleteAll(ctx)
	next := insertAll(t, table, LogRecord{ToEmail: "c@x.com"})
	if next[0] <= ids[1] {
		t.Fatalf("id %d reused after delete (previous max %d)", next[0], ids[1])
	}
}

func TestSitesHaveSeparateTables(t *testing.T) {
	_, logs := testLogStore(t)
	ctx := context.Background()
	if err := logs.SiteCreated(ctx, 2); err != nil {
		t.Fatalf("SiteCreated: %v", err)
	}
	insertAll(t, logs.Table(MainSiteID), LogRecord{ToEmail: "main@x.com"})
	insertAll(t, logs.Table(2), LogRecord{ToEmail: "two@x.com"}, LogRecord{ToEmail: "two@x.com"})

	if n, _ := logs.Table(MainSiteID).CountAll(ctx); n != 1 {
		t.Errorf("main count = %d", n)
	}
	if n, _ := logs.Table(2).CountAll(ctx); n != 2 {
		t.Errorf("site 2 count = %d", n)
	}
}

func TestMissingTableIsStorageError(t *testing.T) {
	_, logs := testLogStore(t)
	ctx := context.Background()
	table := logs.Table(42)

	var storageError *StorageError
	if _, err := table.Insert(ctx, LogRecord{ToEmail: "a@x.com"}); !errors.As(err, &storageError) {
		t.Fatalf("Insert: expected StorageError, got %v", err)
	}
	if _, _, err := table.FetchPage(ctx, Filter{}, Sort{}, 1, 10); !errors.As(err, &storageError) {
		t.Fatalf("FetchPage: expected StorageError, got %v", err)
	}
	if _, err := table.DeleteAll(ctx); !errors.As(err, &storageError) {
		t.Fatalf("DeleteAll: expected StorageError, got %v", err)
	}
	if storageError.Op == "" || storageError.Unwrap() == nil {
		t.Fatalf("StorageError should carry op and cause: %+v", storageError)
	}
}

func TestClosedStoreIsStorageError(t *testing.T) {
	s, logs := testLogStore(t)
	s.Close()

	var storageError *StorageError
	if _, err := logs.Table(MainSiteID).CountAll(context.Background()); !errors.As(err, &storageError) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if err := logs.ProvisionTable(context.Background(), MainSiteID); !errors.As(err, &storageError) {
		t.Fatalf("expected StorageError from ProvisionTable, got %v", err)
	}
}
