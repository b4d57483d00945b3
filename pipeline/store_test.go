package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/snikic01/BelexEmailerFinal-v1.0/models"
)

func TestStorePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	seenPath := filepath.Join(dir, "state", "seen.json")
	pricesPath := filepath.Join(dir, "state", "prices.json")

	store, err := OpenStore(seenPath, pricesPath, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	at := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	if err := store.SetPrice("NIIS", models.PriceRecord{Price: 1020.442, UpdatedAt: at}); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if err := store.MarkSeen("src", "https://belex.test/a.pdf"); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	if err := store.MarkSeen("src", "https://belex.test/a.pdf"); err != nil {
		t.Fatalf("mark seen twice: %v", err)
	}

	reopened, err := OpenStore(seenPath, pricesPath, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rec, ok := reopened.Price("NIIS")
	if !ok || rec.Price != 1020.442 || !rec.UpdatedAt.Equal(at) {
		t.Fatalf("price = %+v", rec)
	}
	if !reopened.Seen("https://belex.test/a.pdf") || reopened.Seen("https://belex.test/b.pdf") {
		t.Fatalf("seen set not restored")
	}

	var keys []string
	data, err := os.ReadFile(seenPath)
	if err != nil {
		t.Fatalf("read seen: %v", err)
	}
	if err := json.Unmarshal(data, &keys); err != nil || len(keys) != 1 {
		t.Fatalf("seen file = %s (%v)", data, err)
	}

	entries, err := os.ReadDir(filepath.Dir(seenPath))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestStoreBacksUpCorruptFile(t *testing.T) {
	dir := t.TempDir()
	pricesPath := filepath.Join(dir, "prices.json")
	if err := os.WriteFile(pricesPath, []byte(`{"NIIS": {"price": 10`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store, err := OpenStore(filepath.Join(dir, "seen.json"), pricesPath, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.Price("NIIS"); ok {
		t.Fatalf("corrupt prices should start empty")
	}

	backups, err := filepath.Glob(pricesPath + ".corrupt-*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(backups) != 1 {
		t.Fatalf("backups = %v, want one", backups)
	}
	if _, err := os.Stat(pricesPath); !os.IsNotExist(err) {
		t.Fatalf("corrupt file still in place: %v", err)
	}

	if err := store.SetPrice("NIIS", models.PriceRecord{Price: 12}); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if _, err := OpenStore(filepath.Join(dir, "seen.json"), pricesPath, nil); err != nil {
		t.Fatalf("reopen after rewrite: %v", err)
	}
}

func TestStoreSubject(t *testing.T) {
	store, err := OpenStore("", "", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s := store.Subject("NIIS"); s.LastKnownPrice != nil {
		t.Fatalf("unexpected price %v", *s.LastKnownPrice)
	}
	store.SetPrice("NIIS", models.PriceRecord{Price: 100})
	if s := store.Subject("NIIS"); s.LastKnownPrice == nil || *s.LastKnownPrice != 100 {
		t.Fatalf("subject = %+v", s)
	}
}
