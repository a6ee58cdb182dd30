package manager

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/servermanager/internal/config"
	smerrors "github.com/vango-dev/servermanager/internal/errors"
	"github.com/vango-dev/servermanager/pkg/cache"
	"github.com/vango-dev/servermanager/pkg/dispatch"
	"github.com/vango-dev/servermanager/pkg/session"
)

// newConfig returns a valid config rooted in a temp dir with file cache and
// no access log.
func newConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.New()
	cfg.Web.Root = filepath.Join(dir, "web")
	if err := os.MkdirAll(cfg.Web.Root, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Web.Root, "index.html"), []byte("<html></html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Cache.File = filepath.Join(dir, "cache.json")
	cfg.Log.Format = config.LogOff
	return cfg
}

func newManager(t *testing.T, cfg *config.Config, app Application, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithAddress("127.0.0.1:0")}, opts...)
	m, err := New(cfg, app, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m
}

func start(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := m.Start(ctx).Await(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func startErr(t *testing.T, m *Manager) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := m.Start(ctx).Await(ctx)
	if err == nil {
		t.Fatal("Start() error = nil, want failure")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("Start() neither resolved nor rejected")
	}
	return err
}

func post(t *testing.T, m *Manager, body string) dispatch.BatchResponse {
	t.Helper()
	resp, err := http.Post("http://"+m.Addr().String()+"/", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out dispatch.BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	return out
}

func TestManager_StartServesActions(t *testing.T) {
	app := AppFunc(func(m *Manager) error {
		m.SetListener(func(r *dispatch.Request) {
			r.Respond(map[string]string{"action": r.Action()})
		})
		return nil
	})
	m := newManager(t, newConfig(t), app)
	start(t, m)

	if !m.State().Loaded() {
		t.Fatalf("State() = %v, want loaded", m.State())
	}
	out := post(t, m, `{"actions":[{"requestId":"1","action":"ping"}]}`)
	data, _ := out.Responses["1"].Data.(map[string]any)
	if data["action"] != "ping" {
		t.Fatalf("responses[1] = %+v, want listener reply", out.Responses["1"])
	}

	again, _ := m.Start(context.Background()).Await(context.Background())
	if again != m {
		t.Fatal("second Start() returned a different result")
	}
}

func TestManager_CacheLoadedBeforeApplicationStart(t *testing.T) {
	cfg := newConfig(t)
	seed := cache.NewFileBackend(cfg.Cache.File)
	if err := seed.WriteAll(context.Background(), []cache.Section{
		{Name: "counter", Data: map[string]any{"n": 41.0}},
	}); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}

	var seen any
	app := AppFunc(func(m *Manager) error {
		seen, _ = m.Cache("counter")
		return m.InitCache("counter", map[string]any{"n": 0.0})
	})
	m := newManager(t, cfg, app)
	start(t, m)

	got, _ := seen.(map[string]any)
	if got["n"] != 41.0 {
		t.Fatalf("Cache(counter) at start = %v, want the persisted value", seen)
	}
}

type savingApp struct {
	saves atomic.Int32
}

func (a *savingApp) Start(m *Manager) error {
	return m.InitCache("stats", map[string]any{"hits": 0.0})
}

func (a *savingApp) SaveCache() {
	a.saves.Add(1)
}

func TestManager_ShutdownFlushesCache(t *testing.T) {
	cfg := newConfig(t)
	app := &savingApp{}
	m := newManager(t, cfg, app)
	start(t, m)

	if err := m.SetCache("stats", map[string]any{"hits": 3.0}, false); err != nil {
		t.Fatalf("SetCache() error = %v", err)
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if app.saves.Load() == 0 {
		t.Fatal("SaveCache hook not called before the final flush")
	}

	sections, err := cache.NewFileBackend(cfg.Cache.File).ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(sections) != 1 || sections[0].Name != "stats" {
		t.Fatalf("persisted = %+v, want stats section", sections)
	}
	data, _ := sections[0].Data.(map[string]any)
	if data["hits"] != 3.0 {
		t.Fatalf("persisted stats = %v, want hits 3", sections[0].Data)
	}
}

func TestManager_Flush(t *testing.T) {
	m := newManager(t, newConfig(t), nil)
	start(t, m)

	if wrote, err := m.Flush(context.Background()); err != nil || wrote {
		t.Fatalf("Flush() clean = (%v, %v), want (false, nil)", wrote, err)
	}
	m.SetCache("a", map[string]any{"x": 1.0}, false)
	if wrote, err := m.Flush(context.Background()); err != nil || !wrote {
		t.Fatalf("Flush() dirty = (%v, %v), want (true, nil)", wrote, err)
	}
	if m.Store().Altered() {
		t.Fatal("store still altered after a successful flush")
	}
}

func TestManager_SQLBackends(t *testing.T) {
	cfg := newConfig(t)
	dsn := filepath.Join(t.TempDir(), "servermanager.db")
	cfg.Server.Database = config.DatabaseSQL
	cfg.Cache.Format = config.CacheSQL
	cfg.Log.Format = config.LogSQL
	cfg.SQL.DSN = "file:" + dsn + "?_pragma=busy_timeout(5000)"

	app := AppFunc(func(m *Manager) error {
		return m.InitCache("greeting", map[string]any{"text": "hi"})
	})
	m := newManager(t, cfg, app)
	start(t, m)

	post(t, m, `{"actions":[{"requestId":"1","action":"ping"}]}`)
	m.SetCache("greeting", map[string]any{"text": "hello"}, false)
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer db.Close()

	var logs int
	if err := db.QueryRow("SELECT COUNT(*) FROM log").Scan(&logs); err != nil {
		t.Fatalf("count log error = %v", err)
	}
	if logs == 0 {
		t.Fatal("no access-log rows written")
	}
	var data string
	if err := db.QueryRow("SELECT data FROM cache WHERE section = ?", "greeting").Scan(&data); err != nil {
		t.Fatalf("select cache error = %v", err)
	}
	if !strings.Contains(data, "hello") {
		t.Fatalf("cache data = %q, want merged value", data)
	}
}

type fakeObjects struct {
	mu      sync.Mutex
	headErr error
	objects map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeObjects) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(raw)), ETag: aws.String(`"1"`)}, nil
}

func (f *fakeObjects) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	raw, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = raw
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, key := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func TestManager_DocumentBackends(t *testing.T) {
	cfg := newConfig(t)
	cfg.Server.Database = config.DatabaseDocument
	cfg.Cache.Format = config.CacheDocument
	cfg.Document.Bucket = "bucket"
	cfg.Document.Prefix = "cache/"
	objects := newFakeObjects()

	m := newManager(t, cfg, nil, WithObjectAPI(objects))
	start(t, m)

	m.SetCache("users", map[string]any{"count": 2.0}, false)
	if _, err := m.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	objects.mu.Lock()
	_, ok := objects.objects["cache/users.json"]
	objects.mu.Unlock()
	if !ok {
		t.Fatal("section document not written under the prefix")
	}
}

func TestManager_FatalStartErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, cfg *config.Config) (Application, []Option)
		code  string
	}{
		{
			name: "database unreachable",
			setup: func(t *testing.T, cfg *config.Config) (Application, []Option) {
				cfg.Server.Database = config.DatabaseDocument
				cfg.Document.Bucket = "missing"
				objects := newFakeObjects()
				objects.headErr = errors.New("NotFound")
				return nil, []Option{WithObjectAPI(objects)}
			},
			code: "SM201",
		},
		{
			name: "corrupt cache file",
			setup: func(t *testing.T, cfg *config.Config) (Application, []Option) {
				if err := os.WriteFile(cfg.Cache.File, []byte("{not json"), 0o644); err != nil {
					t.Fatal(err)
				}
				return nil, nil
			},
			code: "SM203",
		},
		{
			name: "listen failure",
			setup: func(t *testing.T, cfg *config.Config) (Application, []Option) {
				ln, err := net.Listen("tcp", "127.0.0.1:0")
				if err != nil {
					t.Fatal(err)
				}
				t.Cleanup(func() { ln.Close() })
				return nil, []Option{WithAddress(ln.Addr().String())}
			},
			code: "SM301",
		},
		{
			name: "application error",
			setup: func(t *testing.T, cfg *config.Config) (Application, []Option) {
				return AppFunc(func(*Manager) error { return errors.New("boom") }), nil
			},
			code: "SM401",
		},
		{
			name: "application panic",
			setup: func(t *testing.T, cfg *config.Config) (Application, []Option) {
				return AppFunc(func(*Manager) error { panic("boom") }), nil
			},
			code: "SM402",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newConfig(t)
			app, opts := tt.setup(t, cfg)
			m := newManager(t, cfg, app, opts...)

			err := startErr(t, m)
			if got := smerrors.Code(err); got != tt.code {
				t.Fatalf("Start() error = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestManager_NewRejectsInvalidConfig(t *testing.T) {
	cfg := newConfig(t)
	cfg.Web.MessageSizeLimit = 10
	if _, err := New(cfg, nil); smerrors.Code(err) != "SM112" {
		t.Fatalf("New() error = %v, want SM112", err)
	}
}

type countingApp struct {
	starts atomic.Int32
}

func (a *countingApp) Start(m *Manager) error {
	if a.starts.Add(1) == 1 {
		m.SetListener(func(r *dispatch.Request) {
			r.Respond(map[string]string{"from": "custom"})
		})
	}
	return nil
}

func TestManager_ReloadRestartsApplication(t *testing.T) {
	app := &countingApp{}
	m := newManager(t, newConfig(t), app)
	start(t, m)

	out := post(t, m, `{"actions":[{"requestId":"1","action":"x"}]}`)
	if data, _ := out.Responses["1"].Data.(map[string]any); data["from"] != "custom" {
		t.Fatalf("responses[1] = %+v, want custom listener", out.Responses["1"])
	}

	if err := m.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if app.starts.Load() != 2 {
		t.Fatalf("starts = %d, want 2", app.starts.Load())
	}
	out = post(t, m, `{"actions":[{"requestId":"1","action":"x"}]}`)
	if data, _ := out.Responses["1"].Data.(map[string]any); len(data) != 0 {
		t.Fatalf("responses[1] = %+v, want the default listener after reload", out.Responses["1"])
	}
}

type watchedApp struct {
	countingApp
	file string
}

func (a *watchedApp) WatchedFiles() []string {
	return []string{a.file}
}

func TestManager_WatchedFileTriggersReload(t *testing.T) {
	cfg := newConfig(t)
	cfg.Server.Watch = true
	cfg.Server.WatchDelay = 0
	file := filepath.Join(t.TempDir(), "app.js")
	if err := os.WriteFile(file, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	app := &watchedApp{file: file}

	m := newManager(t, cfg, app, WithWatchInterval(10*time.Millisecond))
	start(t, m)

	time.Sleep(50 * time.Millisecond)
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(file, future, future); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for app.starts.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("starts = %d, want a reload after the change", app.starts.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestManager_BroadcastToGroup(t *testing.T) {
	m := newManager(t, newConfig(t), nil)
	start(t, m)

	first := post(t, m, `{"actions":[]}`)
	if err := m.AddUserGroup(first.SessionID, "admins"); err != nil {
		t.Fatalf("AddUserGroup() error = %v", err)
	}
	m.Broadcast("admins", "alert", map[string]string{"level": "high"}, time.Minute)

	second := post(t, m, `{"sessionId":"`+first.SessionID+`","actions":[]}`)
	if _, ok := second.Responses["alert"]; !ok {
		t.Fatalf("responses = %+v, want alert broadcast", second.Responses)
	}
}

func TestManager_SessionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newManager(t, newConfig(t), nil, WithRegistry(reg))
	start(t, m)

	post(t, m, `{"actions":[]}`)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "servermanager_sessions_active" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "transport" && l.GetValue() == "http" && metric.GetGauge().GetValue() == 1 {
					return
				}
			}
		}
	}
	t.Fatal("sessions_active{transport=\"http\"} != 1")
}

func TestManager_OnSessionRelease(t *testing.T) {
	m := newManager(t, newConfig(t), nil)
	start(t, m)

	released := make(chan string, 1)
	m.OnSessionRelease(func(id string, kind session.Kind) {
		if kind == session.KindHTTP {
			released <- id
		}
	})

	out := post(t, m, `{"sessionId":"stale","actions":[]}`)
	if out.SessionID == "stale" || out.SessionID == "" {
		t.Fatalf("SessionID = %q, want a fresh id", out.SessionID)
	}
	select {
	case id := <-released:
		if id != "stale" {
			t.Fatalf("released %q, want stale", id)
		}
	case <-time.After(time.Second):
		t.Fatal("release callback not called for the stale id")
	}
}
