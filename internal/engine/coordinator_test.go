package engine

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pspdemo/isoload/internal/app"
	"github.com/pspdemo/isoload/internal/domain"
	"github.com/pspdemo/isoload/internal/extraction"
	"github.com/pspdemo/isoload/internal/infra/config"
	"github.com/pspdemo/isoload/internal/locator"
	"github.com/pspdemo/isoload/internal/source"
)

const payloadName = "main.83.com.psp.demo.iso"

type memStore struct {
	mu    sync.Mutex
	saves []domain.AcquisitionRecord
}

func (s *memStore) SaveAcquisition(_ context.Context, rec *domain.AcquisitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, *rec)
	return nil
}

func (s *memStore) GetAcquisition(_ context.Context, id string) (*domain.AcquisitionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.saves) - 1; i >= 0; i-- {
		if s.saves[i].ID == id {
			rec := s.saves[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListAcquisitions(context.Context, int) ([]*domain.AcquisitionRecord, error) {
	return nil, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) last() domain.AcquisitionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[len(s.saves)-1]
}

type testEnv struct {
	root   string
	bundle string
	store  *memStore
	appCtx *app.Context
}

func newEnv(t *testing.T, remoteURL string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		root:   filepath.Join(dir, "obb"),
		bundle: filepath.Join(dir, "assets"),
		store:  &memStore{},
	}
	if err := os.MkdirAll(env.bundle, 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	cfg.Storage.Root = env.root

	env.appCtx = &app.Context{
		Config: cfg,
		Locator: locator.New(locator.Options{
			StorageRoot:   env.root,
			BundleDir:     env.bundle,
			PayloadSuffix: ".iso",
			BundleSuffix:  ".zip",
			URLs:          locator.StaticURL{Value: remoteURL},
		}),
		Opener:    source.New(source.Options{}),
		Extractor: extraction.New(extraction.Options{PayloadName: payloadName}),
		Store:     env.store,
	}
	return env
}

func (e *testEnv) coordinator() *Coordinator { return NewCoordinator(e.appCtx) }

func (e *testEnv) payloadPath() string { return filepath.Join(e.root, payloadName) }

func storedZip(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateRaw(&zip.FileHeader{
		Name:               "game.iso",
		Method:             zip.Store,
		CRC32:              crc32.ChecksumIEEE(data),
		CompressedSize64:   uint64(len(data)),
		UncompressedSize64: uint64(len(data)),
	})
	if err != nil {
		t.Fatal(err)
	}
	w.Write(data)
	zw.Close()
	return buf.Bytes()
}

func deflatedZip(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("game.iso")
	if err != nil {
		t.Fatal(err)
	}
	w.Write(data)
	zw.Close()
	return buf.Bytes()
}

func dataOffset(archive []byte) int {
	return 30 + int(binary.LittleEndian.Uint16(archive[26:])) + int(binary.LittleEndian.Uint16(archive[28:]))
}

func collect(t *testing.T, events <-chan domain.Event) []domain.Event {
	t.Helper()
	var out []domain.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %d", len(out))
		}
	}
}

func terminal(t *testing.T, events []domain.Event) domain.Event {
	t.Helper()
	if len(events) == 0 {
		t.Fatalf("no events")
	}
	for _, ev := range events[:len(events)-1] {
		if ev.Terminal() {
			t.Fatalf("terminal event before the end: %+v", ev)
		}
	}
	last := events[len(events)-1]
	if !last.Terminal() {
		t.Fatalf("last event is not terminal: %+v", last)
	}
	return last
}

func TestScenarioBundleExtraction(t *testing.T) {
	env := newEnv(t, "")
	data := bytes.Repeat([]byte("PSP-ISO-"), 125_000)
	if err := os.WriteFile(filepath.Join(env.bundle, "payload.zip"), deflatedZip(t, data), 0o644); err != nil {
		t.Fatal(err)
	}

	c := env.coordinator()
	events, err := c.Ensure(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	all := collect(t, events)
	last := terminal(t, all)

	if last.Kind != domain.EventReady || last.Path != env.payloadPath() {
		t.Fatalf("expected ready at %s, got %+v", env.payloadPath(), last)
	}
	if !strings.HasSuffix(last.Path, ".iso") {
		t.Fatalf("unexpected suffix %s", last.Path)
	}
	if last.Progress.Percent != 100 || last.Progress.BytesWritten != 1_000_000 {
		t.Fatalf("ready should report 100%% of 1000000 bytes, got %+v", last.Progress)
	}

	var prev int64
	for _, ev := range all[:len(all)-1] {
		if ev.Progress.BytesWritten < prev {
			t.Fatalf("progress went backwards")
		}
		prev = ev.Progress.BytesWritten
	}
	if prev != 1_000_000 {
		t.Fatalf("expected progress to reach 1000000, got %d", prev)
	}

	st := c.Status()
	if st.State != domain.StateReady || st.Mode != domain.ModeLocalBundle || st.Percent != 100 {
		t.Fatalf("unexpected status %+v", st)
	}

	rec := env.store.last()
	if rec.State != domain.StateReady || rec.BytesWritten != 1_000_000 || rec.PayloadPath != last.Path {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestLaggingConsumerSeesCompletion(t *testing.T) {
	env := newEnv(t, "")
	data := bytes.Repeat([]byte{0x7e}, 8<<20)
	if err := os.WriteFile(filepath.Join(env.bundle, "payload.zip"), storedZip(t, data), 0o644); err != nil {
		t.Fatal(err)
	}

	c := env.coordinator()
	events, err := c.Ensure(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	// let the worker fill the buffer before anything is read
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if !c.Wait(ctx) {
		t.Fatalf("worker did not finish")
	}

	all := collect(t, events)
	last := terminal(t, all)
	if len(all) > progressBuffer+2 {
		t.Fatalf("buffer overflowed: %d events", len(all))
	}
	if last.Kind != domain.EventReady {
		t.Fatalf("expected ready, got %+v", last)
	}
	want := domain.ProgressEvent{BytesWritten: int64(len(data)), Percent: 100, State: domain.JobCompleted}
	if last.Progress != want {
		t.Fatalf("ready should carry the completed progress, got %+v", last.Progress)
	}
	if final := all[len(all)-2]; final.Kind != domain.EventProgress || final.Progress != want {
		t.Fatalf("final progress event should report 100%%, got %+v", final)
	}
}

func TestDrainLaggingConsumer(t *testing.T) {
	env := newEnv(t, "")
	data := bytes.Repeat([]byte{0x11}, 4<<20)
	if err := os.WriteFile(filepath.Join(env.bundle, "payload.zip"), storedZip(t, data), 0o644); err != nil {
		t.Fatal(err)
	}

	c := env.coordinator()
	events, err := c.Ensure(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.Wait(ctx)

	sink := &recordingSink{}
	if err := Drain(events, sink); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n := len(sink.percents); n == 0 || sink.percents[n-1] != 100 {
		t.Fatalf("sink should end at 100%%, got %v", sink.percents)
	}
	if sink.ready != env.payloadPath() {
		t.Fatalf("unexpected ready path %q", sink.ready)
	}
}

func TestScenarioAlreadyPresent(t *testing.T) {
	env := newEnv(t, "http://127.0.0.1:1/never-called.zip")
	present := filepath.Join(env.root, "main.demo.example.iso")
	if err := os.MkdirAll(env.root, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(present, []byte("iso"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := env.coordinator()
	for i := 0; i < 3; i++ {
		events, err := c.Ensure(context.Background())
		if err != nil {
			t.Fatalf("ensure %d: %v", i, err)
		}
		all := collect(t, events)
		if len(all) != 1 || all[0].Kind != domain.EventReady || all[0].Path != present {
			t.Fatalf("expected a single ready event for %s, got %+v", present, all)
		}
	}

	if env.store.last().Mode != domain.ModeAlreadyPresent {
		t.Fatalf("record should note the payload was present")
	}
}

func TestScenarioRemoteNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	env := newEnv(t, srv.URL+"/payload.zip")
	events, err := env.coordinator().Ensure(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	last := terminal(t, collect(t, events))

	if last.Kind != domain.EventFailed || domain.KindOf(last.Err) != domain.KindNetwork {
		t.Fatalf("expected network failure, got %+v", last)
	}
	if _, err := os.Stat(env.payloadPath()); !os.IsNotExist(err) {
		t.Fatalf("target file must not be created")
	}
}

func TestScenarioRemoteTruncated(t *testing.T) {
	archive := storedZip(t, bytes.Repeat([]byte{0x5a}, 1_000_000))
	cut := dataOffset(archive) + 500_000

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(archive)))
		w.Write(archive[:cut])
	}))
	defer srv.Close()

	env := newEnv(t, srv.URL)
	c := env.coordinator()
	events, err := c.Ensure(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	last := terminal(t, collect(t, events))

	if last.Kind != domain.EventFailed || domain.KindOf(last.Err) != domain.KindNetwork {
		t.Fatalf("expected network failure, got %+v (%s)", last, domain.KindOf(last.Err))
	}

	info, err := os.Stat(env.payloadPath())
	if err != nil {
		t.Fatalf("partial file should remain: %v", err)
	}
	if info.Size() != 500_000 {
		t.Fatalf("expected 500000 partial bytes, got %d", info.Size())
	}

	// the partial file must not be mistaken for a finished one
	loc, err := env.appCtx.Locator.Resolve(context.Background())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if loc.Mode == domain.ModeAlreadyPresent {
		t.Fatalf("partial payload reported as present")
	}

	if st := c.Status(); st.State != domain.StateFailed || st.ErrorKind != domain.KindNetwork {
		t.Fatalf("unexpected status %+v", st)
	}
}

// failingOpener serves a bundle whose reads fail after limit bytes.
type failingOpener struct {
	data  []byte
	limit int
}

type failAfter struct {
	r     io.Reader
	limit int
}

func (f *failAfter) Read(p []byte) (int, error) {
	if f.limit <= 0 {
		return 0, errors.New("input/output error")
	}
	if len(p) > f.limit {
		p = p[:f.limit]
	}
	n, err := f.r.Read(p)
	f.limit -= n
	return n, err
}

func (o *failingOpener) Open(context.Context, domain.PayloadLocation) (io.ReadCloser, int64, error) {
	return io.NopCloser(&failAfter{r: bytes.NewReader(o.data), limit: o.limit}), int64(len(o.data)), nil
}

func TestScenarioBundleReadError(t *testing.T) {
	env := newEnv(t, "")
	archive := storedZip(t, bytes.Repeat([]byte{0x01}, 1_000_000))
	if err := os.WriteFile(filepath.Join(env.bundle, "payload.zip"), archive, 0o644); err != nil {
		t.Fatal(err)
	}
	env.appCtx.Opener = &failingOpener{data: archive, limit: dataOffset(archive) + 500_000}

	c := env.coordinator()
	events, err := c.Ensure(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	last := terminal(t, collect(t, events))

	if domain.KindOf(last.Err) != domain.KindFilesystem {
		t.Fatalf("expected filesystem failure, got %v", last.Err)
	}
	info, err := os.Stat(env.payloadPath())
	if err != nil || info.Size() != 500_000 {
		t.Fatalf("expected 500000-byte partial file, got %v %v", info, err)
	}
	if !extraction.InProgress(env.payloadPath()) {
		t.Fatalf("marker should stay next to the partial file")
	}

	// a second run rewrites the payload from the bundle
	env.appCtx.Opener = source.New(source.Options{})
	c = env.coordinator()
	events, err = c.Ensure(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if last := terminal(t, collect(t, events)); last.Kind != domain.EventReady {
		t.Fatalf("expected ready on retry, got %+v", last)
	}
	info, _ = os.Stat(env.payloadPath())
	if info.Size() != 1_000_000 {
		t.Fatalf("expected full payload after retry, got %d", info.Size())
	}
}

func TestResolutionFailure(t *testing.T) {
	env := newEnv(t, "")
	c := env.coordinator()

	events, err := c.Ensure(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	last := terminal(t, collect(t, events))
	if !errors.Is(last.Err, domain.ErrNoSource) || domain.KindOf(last.Err) != domain.KindResolution {
		t.Fatalf("expected resolution failure, got %v", last.Err)
	}
	if c.Status().State != domain.StateFailed {
		t.Fatalf("expected failed state")
	}
}

// blockingOpener hands out a stream that stalls until released or canceled.
type blockingOpener struct {
	data    []byte
	release chan struct{}
	opened  chan struct{}
}

type blockingReader struct {
	ctx     context.Context
	r       io.Reader
	release chan struct{}
}

func (b *blockingReader) Read(p []byte) (int, error) {
	select {
	case <-b.release:
		return b.r.Read(p)
	case <-b.ctx.Done():
		return 0, b.ctx.Err()
	}
}

func (o *blockingOpener) Open(ctx context.Context, _ domain.PayloadLocation) (io.ReadCloser, int64, error) {
	close(o.opened)
	return io.NopCloser(&blockingReader{ctx: ctx, r: bytes.NewReader(o.data), release: o.release}), int64(len(o.data)), nil
}

func newBlockingEnv(t *testing.T) (*testEnv, *blockingOpener) {
	env := newEnv(t, "")
	archive := deflatedZip(t, []byte("payload contents"))
	if err := os.WriteFile(filepath.Join(env.bundle, "payload.zip"), archive, 0o644); err != nil {
		t.Fatal(err)
	}
	opener := &blockingOpener{data: archive, release: make(chan struct{}), opened: make(chan struct{})}
	env.appCtx.Opener = opener
	return env, opener
}

func TestSingleFlight(t *testing.T) {
	env, opener := newBlockingEnv(t)
	c := env.coordinator()

	events, err := c.Ensure(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	<-opener.opened

	if st := c.Status(); st.State != domain.StateExtracting {
		t.Fatalf("expected extracting, got %s", st.State)
	}
	if _, err := c.Ensure(context.Background()); !errors.Is(err, domain.ErrInFlight) {
		t.Fatalf("second ensure should be rejected, got %v", err)
	}

	close(opener.release)
	if last := terminal(t, collect(t, events)); last.Kind != domain.EventReady {
		t.Fatalf("expected ready, got %+v", last)
	}

	// once finished the payload is present and the next call succeeds immediately
	events, err = c.Ensure(context.Background())
	if err != nil {
		t.Fatalf("ensure after completion: %v", err)
	}
	if all := collect(t, events); len(all) != 1 || all[0].Kind != domain.EventReady {
		t.Fatalf("expected immediate ready, got %+v", all)
	}
}

func TestCancel(t *testing.T) {
	env, opener := newBlockingEnv(t)
	c := env.coordinator()

	if c.Cancel() {
		t.Fatalf("nothing to cancel yet")
	}

	events, err := c.Ensure(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	<-opener.opened

	if !c.Cancel() {
		t.Fatalf("cancel should hit the running job")
	}
	last := terminal(t, collect(t, events))
	if domain.KindOf(last.Err) != domain.KindCanceled {
		t.Fatalf("expected canceled, got %v", last.Err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !c.Wait(ctx) {
		t.Fatalf("worker did not exit")
	}
	if env.store.last().ErrorKind != domain.KindCanceled {
		t.Fatalf("cancellation should be recorded")
	}
}

func TestWaitDoesNotLeak(t *testing.T) {
	env, opener := newBlockingEnv(t)
	c := env.coordinator()

	if !c.Wait(context.Background()) {
		t.Fatalf("wait with no worker should return at once")
	}

	events, err := c.Ensure(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	<-opener.opened

	expired, cancel := context.WithCancel(context.Background())
	cancel()

	before := runtime.NumGoroutine()
	for i := 0; i < 100; i++ {
		if c.Wait(expired) {
			t.Fatalf("worker should still be running")
		}
	}
	if after := runtime.NumGoroutine(); after-before >= 50 {
		t.Fatalf("wait left goroutines behind: %d -> %d", before, after)
	}

	close(opener.release)
	terminal(t, collect(t, events))

	ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if !c.Wait(ctx) {
		t.Fatalf("worker did not exit")
	}
}

func TestTimeout(t *testing.T) {
	env, opener := newBlockingEnv(t)
	env.appCtx.Config.Extract.Timeout = 50 * time.Millisecond
	c := env.coordinator()

	events, err := c.Ensure(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	<-opener.opened

	last := terminal(t, collect(t, events))
	if domain.KindOf(last.Err) != domain.KindCanceled {
		t.Fatalf("expected timeout to cancel, got %v", last.Err)
	}
}

func TestBaseContextShutdown(t *testing.T) {
	env, opener := newBlockingEnv(t)
	c := env.coordinator()

	base, stop := context.WithCancel(context.Background())
	c.SetBaseContext(base)

	events, err := c.Ensure(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	<-opener.opened
	stop()

	if last := terminal(t, collect(t, events)); last.Kind != domain.EventFailed {
		t.Fatalf("expected failure on shutdown, got %+v", last)
	}
}
