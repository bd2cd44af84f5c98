package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwestcott/skyfolio/internal/breaker"
	"github.com/mwestcott/skyfolio/internal/dbclient"
	"github.com/mwestcott/skyfolio/internal/dberr"
	"github.com/mwestcott/skyfolio/internal/domain"
	"github.com/mwestcott/skyfolio/internal/perf"
	"github.com/mwestcott/skyfolio/internal/querycache"
)

// newSiteClient opens a migrated temp-dir database and wraps it in the full
// middleware client, the same way cmd/server assembles it.
func newSiteClient(t *testing.T) *dbclient.Client {
	t.Helper()
	gdb, err := OpenSQLite(filepath.Join(t.TempDir(), "site.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db, err := gdb.DB()
	if err != nil {
		t.Fatalf("raw handle: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	log := zerolog.Nop()
	return dbclient.New(
		db,
		querycache.New(querycache.Config{}),
		perf.NewRecorder(db, perf.Config{}, log),
		dberr.NewEngine(db, log),
		breaker.New[*dbclient.Result](breaker.Config{Name: t.Name()}, log),
		log,
	)
}

func TestPosts_CreateListGet(t *testing.T) {
	c := newSiteClient(t)
	ctx := context.Background()

	if _, err := CreatePost(ctx, c, "draft-notes", "", "", "wip", false); err != nil {
		t.Fatalf("create draft: %v", err)
	}
	pub, err := CreatePost(ctx, c, "north-sea-crossing", "", "A wet one", "We crossed at FL085.", true)
	if err != nil {
		t.Fatalf("create published: %v", err)
	}
	// Empty title is derived from the slug.
	if pub.Title != "North Sea Crossing" {
		t.Fatalf("derived title = %q", pub.Title)
	}
	if pub.PublishedAt == nil {
		t.Fatalf("publishing at creation must stamp PublishedAt")
	}

	posts, err := ListPosts(ctx, c, 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(posts) != 1 || posts[0].Slug != "north-sea-crossing" {
		t.Fatalf("only published posts are listed: %+v", posts)
	}

	if _, err := GetPostBySlug(ctx, c, "draft-notes"); err != ErrNotFound {
		t.Fatalf("drafts are invisible by slug, got %v", err)
	}
	got, err := GetPostBySlug(ctx, c, "north-sea-crossing")
	if err != nil || got.Body != "We crossed at FL085." {
		t.Fatalf("get by slug: %+v err=%v", got, err)
	}

	n, err := CountPosts(ctx, c)
	if err != nil || n != 1 {
		t.Fatalf("count = %d err=%v", n, err)
	}
}

func TestPosts_PublishUpdateDelete(t *testing.T) {
	c := newSiteClient(t)
	ctx := context.Background()

	draft, err := CreatePost(ctx, c, "wip", "WIP", "", "draft body", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := PublishPost(ctx, c, draft.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// Publishing twice finds no draft row.
	if err := PublishPost(ctx, c, draft.ID); err != ErrNotFound {
		t.Fatalf("second publish must be ErrNotFound, got %v", err)
	}

	if err := UpdatePost(ctx, c, draft.ID, "Done", "sum", "final body"); err != nil {
		t.Fatalf("update: %v", err)
	}
	// The cached read from before the write must not be served stale.
	got, err := GetPostBySlug(ctx, c, "wip")
	if err != nil || got.Title != "Done" {
		t.Fatalf("read after update: %+v err=%v", got, err)
	}

	if err := DeletePost(ctx, c, draft.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := GetPostBySlug(ctx, c, "wip"); err != ErrNotFound {
		t.Fatalf("soft-deleted post must be invisible, got %v", err)
	}
	if err := DeletePost(ctx, c, draft.ID); err != ErrNotFound {
		t.Fatalf("second delete must be ErrNotFound, got %v", err)
	}
	if err := UpdatePost(ctx, c, "no-such-id", "x", "y", "z"); err != ErrNotFound {
		t.Fatalf("updating a missing post must be ErrNotFound, got %v", err)
	}
}

func TestPosts_Tags(t *testing.T) {
	c := newSiteClient(t)
	ctx := context.Background()

	p, err := CreatePost(ctx, c, "tagged", "Tagged", "", "body", true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, name := range []string{"flying", "aviation", "flying"} { // duplicate on purpose
		if err := TagPost(ctx, c, p.ID, name); err != nil {
			t.Fatalf("tag %s: %v", name, err)
		}
	}

	tags, err := ListPostTags(ctx, c, p.ID)
	if err != nil {
		t.Fatalf("list tags: %v", err)
	}
	if len(tags) != 2 || tags[0].Name != "aviation" || tags[1].Name != "flying" {
		t.Fatalf("expected sorted unique tags, got %+v", tags)
	}
}

func TestSearchPosts_FTS(t *testing.T) {
	c := newSiteClient(t)
	ctx := context.Background()

	if _, err := CreatePost(ctx, c, "crosswind", "Crosswind Landings", "", "Practicing crosswind technique at Lydd.", true); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := CreatePost(ctx, c, "engine", "Engine Management", "", "Leaning the mixture on long legs.", true); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := CreatePost(ctx, c, "secret-draft", "Crosswind Draft", "", "crosswind crosswind", false); err != nil {
		t.Fatalf("create: %v", err)
	}

	hits, err := SearchPosts(ctx, c, "crosswind", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Slug != "crosswind" {
		t.Fatalf("drafts must not be searchable: %+v", hits)
	}

	// Prefix matching: "cross" finds "crosswind".
	hits, err = SearchPosts(ctx, c, "cross", 10)
	if err != nil || len(hits) != 1 {
		t.Fatalf("prefix search: %+v err=%v", hits, err)
	}

	// Raw FTS syntax in user input is neutralized.
	if _, err := SearchPosts(ctx, c, `"unbalanced AND (`, 10); err != nil {
		t.Fatalf("hostile query must not error: %v", err)
	}

	hits, err = SearchPosts(ctx, c, "   ", 10)
	if err != nil || len(hits) != 0 {
		t.Fatalf("blank query returns no hits, got %+v err=%v", hits, err)
	}
}

func TestFlights_ListAndYearStats(t *testing.T) {
	c := newSiteClient(t)
	ctx := context.Background()

	mk := func(date string, minutes, nm int) {
		t.Helper()
		d, err := time.Parse("2006-01-02", date)
		if err != nil {
			t.Fatalf("parse date: %v", err)
		}
		_, err = CreateFlight(ctx, c, &domain.Flight{
			Date: d, Origin: "EGKA", Destination: "EGKB",
			AircraftType: "PA28", Registration: "G-TEST",
			DurationMinutes: minutes, DistanceNM: nm,
		})
		if err != nil {
			t.Fatalf("create flight: %v", err)
		}
	}
	mk("2025-04-01", 60, 40)
	mk("2025-09-15", 90, 70)
	mk("2024-07-20", 120, 110)

	flights, err := ListFlights(ctx, c, 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(flights) != 3 || !flights[0].Date.After(flights[2].Date) {
		t.Fatalf("flights must be newest first: %+v", flights)
	}

	n, err := CountFlights(ctx, c)
	if err != nil || n != 3 {
		t.Fatalf("count = %d err=%v", n, err)
	}

	stats, err := FlightYearStats(ctx, c)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 2 || stats[0].Year != 2025 || stats[1].Year != 2024 {
		t.Fatalf("expected 2025 then 2024, got %+v", stats)
	}
	if stats[0].Flights != 2 || stats[0].TotalMinutes != 150 || stats[0].TotalNM != 110 {
		t.Fatalf("bad 2025 totals: %+v", stats[0])
	}
}

func TestProjects_OrderingAndUpdate(t *testing.T) {
	c := newSiteClient(t)
	ctx := context.Background()

	mk := func(slug string, featured bool, order int) {
		t.Helper()
		if _, err := CreateProject(ctx, c, &domain.Project{
			Slug: slug, Name: slug, Featured: featured, SortOrder: order,
		}); err != nil {
			t.Fatalf("create %s: %v", slug, err)
		}
	}
	mk("ordinary", false, 0)
	mk("flagship", true, 1)
	mk("headline", true, 0)

	projects, err := ListProjects(ctx, c)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(projects) != 3 || projects[0].Slug != "headline" || projects[1].Slug != "flagship" || projects[2].Slug != "ordinary" {
		t.Fatalf("unexpected order: %+v", projects)
	}

	if err := UpdateProject(ctx, c, "ordinary", &domain.Project{Name: "Renamed", SortOrder: 5}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := GetProjectBySlug(ctx, c, "ordinary")
	if err != nil || got.Name != "Renamed" || got.SortOrder != 5 {
		t.Fatalf("read after update: %+v err=%v", got, err)
	}
	if err := UpdateProject(ctx, c, "missing", &domain.Project{}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSiteEvents_SkipPerformanceLog(t *testing.T) {
	c := newSiteClient(t)
	ctx := context.Background()

	if err := RecordEvent(ctx, c, "page_view", "/posts/crosswind", ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	var n int64
	if err := c.DB().QueryRow(
		`SELECT COUNT(*) FROM query_metrics WHERE table_name = 'site_events'`).Scan(&n); err != nil {
		t.Fatalf("count metrics: %v", err)
	}
	if n != 0 {
		t.Fatalf("event inserts must not produce telemetry rows, got %d", n)
	}
	if err := c.DB().QueryRow(`SELECT COUNT(*) FROM site_events`).Scan(&n); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the event row, got %d", n)
	}
}

func TestSessions_CreateAndValidate(t *testing.T) {
	c := newSiteClient(t)
	ctx := context.Background()

	if _, err := CreateSession(ctx, c, "secret-token", time.Hour); err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := ValidSession(ctx, c, "secret-token")
	if err != nil || !ok {
		t.Fatalf("fresh session must validate: ok=%v err=%v", ok, err)
	}
	ok, err = ValidSession(ctx, c, "wrong-token")
	if err != nil || ok {
		t.Fatalf("unknown token must not validate: ok=%v err=%v", ok, err)
	}

	// A non-positive ttl falls back to the default, so the session is valid.
	if _, err := CreateSession(ctx, c, "defaulted-token", -time.Hour); err != nil {
		t.Fatalf("create with defaulted ttl: %v", err)
	}
	ok, err = ValidSession(ctx, c, "defaulted-token")
	if err != nil || !ok {
		t.Fatalf("default ttl session must validate: ok=%v err=%v", ok, err)
	}
}

func TestStats_PostsAndFlights(t *testing.T) {
	c := newSiteClient(t)
	ctx := context.Background()

	count, latest, err := PostsStats(ctx, c)
	if err != nil || count != 0 || latest != nil {
		t.Fatalf("empty stats: count=%d latest=%v err=%v", count, latest, err)
	}

	if _, err := CreatePost(ctx, c, "one", "One", "", "body", true); err != nil {
		t.Fatalf("create: %v", err)
	}
	count, latest, err = PostsStats(ctx, c)
	if err != nil || count != 1 || latest == nil {
		t.Fatalf("stats after insert: count=%d latest=%v err=%v", count, latest, err)
	}

	count, latest, err = FlightsStats(ctx, c)
	if err != nil || count != 0 || latest != nil {
		t.Fatalf("empty flight stats: count=%d latest=%v err=%v", count, latest, err)
	}
}
