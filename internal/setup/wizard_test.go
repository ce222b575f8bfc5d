package setup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tarimpazar/agrisync/internal/config"
	"github.com/tarimpazar/agrisync/internal/model"
)

type fakeRemote struct {
	counts       map[string]int64
	err          error
	disconnected bool
}

func (f *fakeRemote) CollectionCounts(context.Context) (map[string]int64, error) {
	return f.counts, f.err
}

func (f *fakeRemote) Disconnect(context.Context) error {
	f.disconnected = true
	return nil
}

type dial struct {
	uri, database string
	timeout       time.Duration
}

func connectTo(r *fakeRemote, err error, got *dial) Connector {
	return func(_ context.Context, uri, database string, timeout time.Duration) (Remote, error) {
		*got = dial{uri, database, timeout}
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDiscoverCollections(t *testing.T) {
	r := &fakeRemote{counts: map[string]int64{
		"users":                 12,
		model.CollectionCatalog: 340,
		"audit":                 5,
	}}
	got, err := DiscoverCollections(context.Background(), r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []CollectionInfo{
		{Name: model.CollectionCatalog, Count: 340, Required: true},
		{Name: model.CollectionListings, Required: true, Missing: true},
		{Name: "audit", Count: 5},
		{Name: "users", Count: 12},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d collections, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("collection %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDiscoverCollections_Error(t *testing.T) {
	if _, err := DiscoverCollections(context.Background(), &fakeRemote{err: errors.New("boom")}); err == nil {
		t.Fatal("expected error")
	}
}

func TestWizard_WritesConfig(t *testing.T) {
	t.Setenv("AGRISYNC_TEST_WIZARD_URI", "mongodb://db.internal:27017")
	path := filepath.Join(t.TempDir(), "agrisync", "config.yaml")

	input := strings.Join([]string{
		"${AGRISYNC_TEST_WIZARD_URI}", // URI
		"",                            // database: default
		"2",                           // collation: en
		"30m",                         // catalog max age
		"",                            // listings max age: default
		"14",                          // retention days
		"2,3",                         // change streams + notify
		"amqp://rabbit:5672/",         // AMQP URL
	}, "\n") + "\n"

	r := &fakeRemote{counts: map[string]int64{model.CollectionCatalog: 10, model.CollectionListings: 3}}
	var got dial
	var out bytes.Buffer
	wiz := NewWizard(strings.NewReader(input), &out, quietLogger(), connectTo(r, nil, &got))

	if err := wiz.Run(context.Background(), path); err != nil {
		t.Fatalf("Run: %v\noutput:\n%s", err, out.String())
	}

	if got.uri != "mongodb://db.internal:27017" || got.database != "agrimarket" || got.timeout != 8*time.Second {
		t.Errorf("dialled %+v", got)
	}
	if !r.disconnected {
		t.Error("remote was not disconnected")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	if !strings.Contains(string(raw), "${AGRISYNC_TEST_WIZARD_URI}") {
		t.Errorf("config should keep the variable reference:\n%s", raw)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Collation != "en" {
		t.Errorf("Collation = %q, want en", cfg.Collation)
	}
	if cfg.Collections.Catalog.MaxAge != 30*time.Minute {
		t.Errorf("catalog max_age = %v, want 30m", cfg.Collections.Catalog.MaxAge)
	}
	if cfg.Collections.Listings.MaxAge != 6*time.Hour || cfg.Collections.Listings.RetentionDays != 14 {
		t.Errorf("listings = %+v", cfg.Collections.Listings)
	}
	if !cfg.Remote.ChangeStreams {
		t.Error("ChangeStreams = false, want true")
	}
	if cfg.Notify == nil || cfg.Notify.URL != "amqp://rabbit:5672/" {
		t.Errorf("Notify = %+v", cfg.Notify)
	}
	if cfg.Telemetry != nil {
		t.Errorf("Telemetry = %+v, want nil", cfg.Telemetry)
	}
	if !strings.Contains(out.String(), "agrisync daemon") {
		t.Errorf("missing next steps in output:\n%s", out.String())
	}
}

func TestWizard_ConnectFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	input := "mongodb://unreachable:27017\n\n"

	var got dial
	var out bytes.Buffer
	wiz := NewWizard(strings.NewReader(input), &out, quietLogger(), connectTo(nil, errors.New("no route"), &got))

	err := wiz.Run(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "cannot reach MongoDB") {
		t.Fatalf("err = %v, want connect failure", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("config should not be written when the remote is unreachable")
	}
}

func TestWizard_RejectsBadScheme(t *testing.T) {
	var got dial
	var out bytes.Buffer
	wiz := NewWizard(strings.NewReader("http://localhost\n\n"), &out, quietLogger(), connectTo(&fakeRemote{}, nil, &got))

	if err := wiz.Run(context.Background(), filepath.Join(t.TempDir(), "config.yaml")); err == nil {
		t.Fatal("expected error for non-mongodb URI")
	}
	if got.uri != "" {
		t.Error("connector should not be called")
	}
}

func TestWizard_KeepsExistingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("existing"), 0o600); err != nil {
		t.Fatal(err)
	}

	var got dial
	var out bytes.Buffer
	wiz := NewWizard(strings.NewReader("n\n"), &out, quietLogger(), connectTo(&fakeRemote{}, nil, &got))

	if err := wiz.Run(context.Background(), path); err != nil {
		t.Fatalf("Run: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "existing" {
		t.Errorf("config was overwritten: %q", raw)
	}
}
