package service_test

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/devkv/client"
	"github.com/jrife/devkv/config"
	"github.com/jrife/devkv/dispatcher"
	"github.com/jrife/devkv/service"
	"github.com/jrife/devkv/storage/kv/plugins/memory"
	"go.uber.org/zap"
)

func tempDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "devkv-service")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	t.Cleanup(func() { os.RemoveAll(dir) })

	return dir
}

func newConfig(t *testing.T, path string) config.Config {
	c := config.Config{Storage: config.StorageConfig{Driver: "bbolt", Options: map[string]interface{}{"path": path}}}
	c.SetDefaults()

	return c
}

// Data written through one service instance survives a restart
func TestPersistence(t *testing.T) {
	path := filepath.Join(tempDir(t), "devkv.db")
	ctx := context.Background()

	svc, err := service.New(newConfig(t, path), service.Options{Logger: zap.NewNop()})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	server := httptest.NewServer(svc.Handler())
	db := client.New(client.Config{URL: server.URL + "/db-worker", Credential: "dk1", HTTPClient: server.Client(), Logger: zap.NewNop()})

	if err := db.RegisterDeveloper(ctx, "dk1", nil); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := db.Set(ctx, "u1", map[string]int{"x": 1}); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	server.Close()

	if err := svc.Close(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	svc, err = service.New(newConfig(t, path), service.Options{Logger: zap.NewNop()})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer svc.Close()

	response := svc.Dispatcher().Dispatch(ctx, dispatcher.Request{Verb: "GET", Key: "u1", Credential: "dk1"})

	if response.HTTPStatus != http.StatusOK {
		t.Fatalf("expected 200, got %#v", response)
	}

	var data map[string]int

	if err := json.Unmarshal(response.Data, &data); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	diff := cmp.Diff(map[string]int{"x": 1}, data)

	if diff != "" {
		t.Fatalf("%s", diff)
	}
}

func TestHandler(t *testing.T) {
	c := config.Config{MountPath: "/kv", PartitionPrefix: "app_", Storage: config.StorageConfig{Driver: "memory"}}
	c.SetDefaults()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	svc, err := service.New(c, service.Options{Logger: zap.NewNop(), RootStore: memory.New(), Next: next})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	server := httptest.NewServer(svc.Handler())
	defer server.Close()

	ctx := context.Background()
	db := client.New(client.Config{URL: server.URL + "/kv", Credential: "dk1", HTTPClient: server.Client(), Logger: zap.NewNop()})

	if err := db.RegisterDeveloper(ctx, "dk1", nil); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	registration, err := svc.Registry().Developer(ctx, "dk1")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if registration == nil || registration.StoreName != "app_dk1" {
		t.Fatalf("expected the configured prefix to be used, got %#v", registration)
	}

	res, err := server.Client().Get(server.URL + "/index.html")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	res.Body.Close()

	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("expected requests outside the mount path to reach next, got %d", res.StatusCode)
	}

	if err := svc.Close(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	// Closing twice is harmless
	if err := svc.Close(); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := db.Set(ctx, "u1", "v"); client.StatusCode(err) != http.StatusInternalServerError {
		t.Fatalf("expected a 500 after Close, got %#v", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	c := config.Config{Storage: config.StorageConfig{Driver: "nope"}}
	c.SetDefaults()

	if _, err := service.New(c, service.Options{Logger: zap.NewNop()}); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestConfiguredLogger(t *testing.T) {
	c := config.Config{Log: config.LogConfig{Level: "warn"}, Storage: config.StorageConfig{Driver: "memory"}}
	c.SetDefaults()

	svc, err := service.New(c, service.Options{RootStore: memory.New()})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer svc.Close()

	if svc.Logger().Core().Enabled(zap.InfoLevel) {
		t.Fatalf("expected info to be disabled at the configured warn level")
	}

	if !svc.Logger().Core().Enabled(zap.WarnLevel) {
		t.Fatalf("expected warn to be enabled at the configured warn level")
	}
}

func TestRejectedRequestWritesNothing(t *testing.T) {
	c := config.Config{Storage: config.StorageConfig{Driver: "memory"}}
	c.SetDefaults()
	rootStore := memory.New()

	svc, err := service.New(c, service.Options{Logger: zap.NewNop(), RootStore: rootStore})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	defer svc.Close()

	partitions := func() []string {
		names, err := rootStore.Partitions()

		if err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}

		result := []string{}

		for _, name := range names {
			result = append(result, string(name))
		}

		return result
	}

	before := partitions()

	diff := cmp.Diff([]string{"root"}, before)

	if diff != "" {
		t.Fatalf("%s", diff)
	}

	response := svc.Dispatcher().Dispatch(context.Background(), dispatcher.Request{Verb: "GET", Key: "u1", Credential: "dk1"})

	if response.HTTPStatus != http.StatusForbidden {
		t.Fatalf("expected 403, got %#v", response)
	}

	diff = cmp.Diff(before, partitions())

	if diff != "" {
		t.Fatalf("%s", diff)
	}
}
