// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

const listingItem = `<div class="BrowseList_medicineContainer__Fi9u7"><a class="BrowseList_medicine__cQZkc" href="%s">item</a></div>`

func detailPage(name string) string {
	return `<html><body>
<h1 class="MedicineOverviewSection_medicineName__dHDQi">` + name + `</h1>
<div class="DescriptionTabs_root__YOrb_">
  <div id="uses"><div class="Text_text__i_fng">Pain relief <span hidden>and fever</span></div></div>
  <div id="sideEffects">
    <div class="Text_text__i_fng List_text__7rJzx">Nausea</div>
    <div class="Text_text__i_fng List_text__7rJzx">Heartburn</div>
  </div>
</div>
</body></html>`
}

func newCatalogServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/browse", func(w http.ResponseWriter, r *http.Request) {
		bucket, page := r.URL.Query().Get("alphabet"), r.URL.Query().Get("page")
		switch bucket + page {
		case "a0":
			fmt.Fprintf(w, listingItem, "/medicine/aspirin")
			fmt.Fprint(w, `<a href="/browse?alphabet=a&page=1">next</a>`)
		case "a1":
			fmt.Fprintf(w, listingItem, "/medicine/avil")
		case "b0":
			fmt.Fprintf(w, listingItem, "/medicine/aspirin-500")
			fmt.Fprintf(w, listingItem, "/medicine/missing")
		default:
			fmt.Fprint(w, `<html><body>nothing here</body></html>`)
		}
	})
	mux.HandleFunc("/medicine/aspirin", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, detailPage("Aspirin"))
	})
	mux.HandleFunc("/medicine/avil", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, detailPage("Avil 25mg"))
	})
	mux.HandleFunc("/medicine/aspirin-500", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, detailPage("Aspirin"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Site.ListingURL = baseURL + "/browse"
	cfg.Site.LinkBase = baseURL
	cfg.Site.Buckets = []string{"a", "b"}
	cfg.HTTP.TimeoutSeconds = 5
	cfg.Discovery.MinDelayMs, cfg.Discovery.MaxDelayMs = 0, 0
	cfg.Details.MinDelayMs, cfg.Details.MaxDelayMs = 0, 0
	cfg.State.Dir = filepath.Join(t.TempDir(), "state")
	cfg.Logging.File = ""
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestCrawlEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := newCatalogServer(t)
	a := app.NewWithLogger(testConfig(t, srv.URL), zap.NewNop())
	defer a.Close()

	disc, err := a.Discovery()
	require.NoError(t, err)
	discSummary, err := disc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, discSummary.Pages)
	assert.Equal(t, 4, discSummary.Links)
	assert.True(t, discSummary.Cursor.Complete)

	links, err := a.Links().Load()
	require.NoError(t, err)
	require.Equal(t, []crawler.Link{
		srv.URL + "/medicine/aspirin",
		srv.URL + "/medicine/avil",
		srv.URL + "/medicine/aspirin-500",
		srv.URL + "/medicine/missing",
	}, links)

	pipe, err := a.Pipeline(ctx, 0)
	require.NoError(t, err)
	summary, err := pipe.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 2, summary.Inserted)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, 1, summary.Skipped)

	store := a.Results()
	store.Load(ctx)
	aspirin, ok := store.Get("Aspirin")
	require.True(t, ok)
	assert.Equal(t, srv.URL+"/medicine/aspirin", aspirin.SourceURL)
	assert.Equal(t, crawler.TextValue("Pain relief and fever"), aspirin.Fields["uses"])
	assert.Equal(t, crawler.ListValue([]string{"Nausea", "Heartburn"}), aspirin.Fields["side_effects"])
	assert.Equal(t, crawler.TextValue(""), aspirin.Fields["how_it_works"])
	assert.Equal(t, crawler.ListValue([]string{}), aspirin.Fields["consumption"])
	assert.NotEmpty(t, aspirin.Metadata.ContentHash)

	report, err := a.Status(ctx)
	require.NoError(t, err)
	assert.True(t, report.Discovery.Complete)
	assert.Equal(t, 4, report.Discovery.CommittedLinks)
	assert.Equal(t, 2, report.Records)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Details.Remaining)

	again, err := a.Discovery()
	require.NoError(t, err)
	noop, err := again.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, noop.Pages)

	sink, err := a.ExportSink(ctx, "local")
	require.NoError(t, err)
	result, err := sink.Export(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Records)
	_, err = os.Stat(filepath.Join(a.Config().State.Dir, "exports", "results.json"))
	require.NoError(t, err)
}

func TestResetTargets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := newCatalogServer(t)
	a := app.NewWithLogger(testConfig(t, srv.URL), zap.NewNop())
	defer a.Close()

	disc, err := a.Discovery()
	require.NoError(t, err)
	_, err = disc.Run(ctx)
	require.NoError(t, err)
	pipe, err := a.Pipeline(ctx, 1)
	require.NoError(t, err)
	_, err = pipe.Run(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Reset(ctx, app.ResetDetails))
	report, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Records)
	assert.Nil(t, report.Details.LastProcessedLink)
	assert.True(t, report.Discovery.Complete, "details reset keeps discovery state")

	require.NoError(t, a.Reset(ctx, app.ResetAll))
	report, err = a.Status(ctx)
	require.NoError(t, err)
	assert.False(t, report.Discovery.Complete)
	assert.Equal(t, "a", report.Discovery.Bucket)
	assert.Zero(t, report.Details.Links)

	require.Error(t, a.Reset(ctx, "everything"))
}

func TestPipelineLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := newCatalogServer(t)
	a := app.NewWithLogger(testConfig(t, srv.URL), zap.NewNop())
	defer a.Close()

	disc, err := a.Discovery()
	require.NoError(t, err)
	_, err = disc.Run(ctx)
	require.NoError(t, err)

	pipe, err := a.Pipeline(ctx, 2)
	require.NoError(t, err)
	summary, err := pipe.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Remaining)
	last, ok := summary.Cursor.Last()
	require.True(t, ok)
	assert.Equal(t, srv.URL+"/medicine/avil", last)
}

func TestExportSinkUnknown(t *testing.T) {
	t.Parallel()

	a := app.NewWithLogger(testConfig(t, "http://127.0.0.1:1"), nil)
	defer a.Close()

	_, err := a.ExportSink(context.Background(), "ftp")
	require.Error(t, err)
	_, err = a.ExportSink(context.Background(), "postgres")
	require.Error(t, err, "postgres sink needs a dsn")
}

func TestNewWritesLogFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Logging.File = "crawler.log"
	a, err := app.New(cfg)
	require.NoError(t, err)
	require.NotEmpty(t, a.RunID())
	a.Logger().Info("hello")
	a.Close()

	data, err := os.ReadFile(filepath.Join(cfg.State.Dir, "crawler.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), a.RunID())
}
