package cache

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"
)

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		DriverFS:     newTestStore,
		DriverSQLite: newTestSQLiteStore,
	}
}

func TestStorePutAndGet(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			locator := Locator{Store: "kuryecini-v1", Key: "http://backend.local/api/businesses?city=istanbul"}

			header := http.Header{"Content-Type": []string{"application/json"}}
			payload := []byte(`[{"id":"b1"}]`)
			if _, err := store.Put(context.Background(), locator, bytes.NewReader(payload), PutOptions{Status: http.StatusOK, Header: header}); err != nil {
				t.Fatalf("put error: %v", err)
			}

			result, err := store.Get(context.Background(), locator)
			if err != nil {
				t.Fatalf("get error: %v", err)
			}
			defer result.Reader.Close()

			body, err := io.ReadAll(result.Reader)
			if err != nil {
				t.Fatalf("read cached body error: %v", err)
			}
			if string(body) != string(payload) {
				t.Fatalf("cached payload mismatch: %s", string(body))
			}
			if result.Entry.SizeBytes != int64(len(payload)) {
				t.Fatalf("size mismatch: %d", result.Entry.SizeBytes)
			}
			if result.Entry.Status != http.StatusOK {
				t.Fatalf("status mismatch: %d", result.Entry.Status)
			}
			if got := result.Entry.Header.Get("Content-Type"); got != "application/json" {
				t.Fatalf("header mismatch: %s", got)
			}
		})
	}
}

func TestStoreKeysAreExactURLs(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			base := Locator{Store: "kuryecini-v1", Key: "http://backend.local/static/app.js"}
			if _, err := store.Put(context.Background(), base, bytes.NewReader([]byte("js")), PutOptions{}); err != nil {
				t.Fatalf("put error: %v", err)
			}

			for _, key := range []string{
				"http://backend.local/static/app.js?v=2",
				"http://backend.local/static/app",
				"http://backend.local/static/app.js/",
			} {
				if _, err := store.Get(context.Background(), Locator{Store: base.Store, Key: key}); err != ErrNotFound {
					t.Fatalf("expected miss for %s, got %v", key, err)
				}
			}
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			_, err := store.Get(context.Background(), Locator{Store: "kuryecini-v1", Key: "http://backend.local/missing"})
			if err == nil || err != ErrNotFound {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreRemove(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			locator := Locator{Store: "kuryecini-v1", Key: "http://backend.local/cache/remove"}
			if _, err := store.Put(context.Background(), locator, bytes.NewReader([]byte("data")), PutOptions{}); err != nil {
				t.Fatalf("put error: %v", err)
			}
			if err := store.Remove(context.Background(), locator); err != nil {
				t.Fatalf("remove error: %v", err)
			}
			if _, err := store.Get(context.Background(), locator); err == nil || err != ErrNotFound {
				t.Fatalf("expected not found after remove, got %v", err)
			}
		})
	}
}

func TestStoreListAndDrop(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			for _, storeName := range []string{"kuryecini-v2", "kuryecini-v1", "kuryecini-v2-data"} {
				loc := Locator{Store: storeName, Key: "http://backend.local/"}
				if _, err := store.Put(ctx, loc, bytes.NewReader([]byte("x")), PutOptions{}); err != nil {
					t.Fatalf("put %s error: %v", storeName, err)
				}
			}

			names, err := store.Stores(ctx)
			if err != nil {
				t.Fatalf("stores error: %v", err)
			}
			if len(names) != 3 || names[0] != "kuryecini-v1" {
				t.Fatalf("unexpected store list: %v", names)
			}

			dropped, err := store.DropStore(ctx, "kuryecini-v1")
			if err != nil || !dropped {
				t.Fatalf("expected drop to succeed, dropped=%v err=%v", dropped, err)
			}
			dropped, err = store.DropStore(ctx, "kuryecini-v1")
			if err != nil || dropped {
				t.Fatalf("second drop should report missing store, dropped=%v err=%v", dropped, err)
			}
			if _, err := store.Get(ctx, Locator{Store: "kuryecini-v1", Key: "http://backend.local/"}); err != ErrNotFound {
				t.Fatalf("dropped store entries should be gone, got %v", err)
			}
			if _, err := store.Get(ctx, Locator{Store: "kuryecini-v2", Key: "http://backend.local/"}); err != nil {
				t.Fatalf("other stores must survive, got %v", err)
			}
		})
	}
}

func TestStoreRejectsInvalidStoreName(t *testing.T) {
	store := newTestStore(t)
	for _, name := range []string{"", "..", "a/b"} {
		if _, err := store.Put(context.Background(), Locator{Store: name, Key: "http://x/"}, bytes.NewReader(nil), PutOptions{}); err == nil {
			t.Fatalf("expected error for store name %q", name)
		}
	}
}

func TestFileStorePreservesModTime(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Store: "kuryecini-v1", Key: "http://backend.local/icons/icon.png"}
	modTime := time.Now().Add(-time.Hour).UTC()
	if _, err := store.Put(context.Background(), locator, bytes.NewReader([]byte("png")), PutOptions{ModTime: modTime}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	result, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()
	if !result.Entry.ModTime.Equal(modTime) {
		t.Fatalf("modtime mismatch: expected %v got %v", modTime, result.Entry.ModTime)
	}
}

func TestFileStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Store: "kuryecini-v1", Key: "http://backend.local/dir"}

	fs, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}

	bodyPath, metaPath, err := fs.entryPath(locator)
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := os.MkdirAll(bodyPath, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if err := os.WriteFile(metaPath, []byte(`{"url":"http://backend.local/dir","status":200}`), 0o644); err != nil {
		t.Fatalf("write meta error: %v", err)
	}

	if _, err := store.Get(context.Background(), locator); err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("redis", t.TempDir()); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

// newTestStore returns a Store backed by a temporary directory.
func TestFileStoreIgnoresSiblingsOfStoresDir(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "logs"), 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	store, err := NewStore(base)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Put(ctx, Locator{Store: "kuryecini-v1", Key: "http://backend.local/"}, bytes.NewReader([]byte("x")), PutOptions{}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	names, err := store.Stores(ctx)
	if err != nil {
		t.Fatalf("stores error: %v", err)
	}
	if len(names) != 1 || names[0] != "kuryecini-v1" {
		t.Fatalf("only cache stores should be listed, got %v", names)
	}
	dropped, err := store.DropStore(ctx, "logs")
	if err != nil || dropped {
		t.Fatalf("logs is not a store, dropped=%v err=%v", dropped, err)
	}
	if _, err := os.Stat(filepath.Join(base, "logs")); err != nil {
		t.Fatalf("sibling directory must survive: %v", err)
	}
}

func TestFileStoreGetNeverMixesVersions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	locator := Locator{Store: "kuryecini-v1", Key: "http://backend.local/api/businesses"}
	put := func(status int) {
		body := []byte(strconv.Itoa(status))
		if _, err := store.Put(ctx, locator, bytes.NewReader(body), PutOptions{Status: status}); err != nil {
			t.Errorf("put %d: %v", status, err)
		}
	}
	put(http.StatusOK)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				put(http.StatusCreated)
			} else {
				put(http.StatusOK)
			}
		}
	}()

	for i := 0; i < 200; i++ {
		result, err := store.Get(ctx, locator)
		if err != nil {
			t.Fatalf("get error: %v", err)
		}
		body, err := io.ReadAll(result.Reader)
		result.Reader.Close()
		if err != nil {
			t.Fatalf("read error: %v", err)
		}
		if string(body) != strconv.Itoa(result.Entry.Status) {
			t.Fatalf("body %q paired with status %d", body, result.Entry.Status)
		}
	}
	wg.Wait()
}

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func newTestSQLiteStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
