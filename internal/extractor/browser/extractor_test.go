package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-tasks/internal/scrape"
)

type fakeSession struct {
	navigateErr error
	waitErr     error
	title       string
	titleErr    error
	location    string
	html        string

	mu        sync.Mutex
	waits     []string
	closed    int
	navigated []string
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	s.navigated = append(s.navigated, url)
	s.mu.Unlock()
	return s.navigateErr
}

func (s *fakeSession) WaitForElement(_ context.Context, selector string, _ time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, selector)
	s.mu.Unlock()
	return s.waitErr
}

func (s *fakeSession) Title(context.Context) (string, error) { return s.title, s.titleErr }

func (s *fakeSession) Location(context.Context) (string, error) {
	if s.location == "" {
		return "", errors.New("no location")
	}
	return s.location, nil
}

func (s *fakeSession) HTML(context.Context) (string, error) { return s.html, nil }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

type fakeFactory struct {
	newSession func() *fakeSession
	openErr    error
	opened     []*fakeSession
	mu         sync.Mutex
}

func (f *fakeFactory) Open(context.Context) (Session, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	s := f.newSession()
	f.mu.Lock()
	f.opened = append(f.opened, s)
	f.mu.Unlock()
	return s, nil
}

func newExtractor(t *testing.T, f SessionFactory, cfg Config) *Extractor {
	t.Helper()
	e, err := New(f, cfg, zap.NewNop())
	require.NoError(t, err)
	return e
}

func TestExtract_Success(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{title: "Rendered", location: "https://example.com/landing", html: "<html></html>"}
	f := &fakeFactory{newSession: func() *fakeSession { return sess }}
	e := newExtractor(t, f, Config{CaptureHTML: true})

	res, err := e.Extract(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, "Rendered", res.Title)
	require.Equal(t, "https://example.com/landing", res.FinalURL)
	require.True(t, res.Success)
	require.Equal(t, "<html></html>", string(res.Body))
	require.Equal(t, []string{DefaultWaitSelector}, sess.waits)
	require.Equal(t, 1, sess.closed)
}

func TestExtract_FinalURLFallsBackToRequest(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{title: "Rendered"}
	e := newExtractor(t, &fakeFactory{newSession: func() *fakeSession { return sess }}, Config{WaitSelector: "#app"})

	res, err := e.Extract(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, "https://example.com", res.FinalURL)
	require.Empty(t, res.Body)
	require.Equal(t, []string{"#app"}, sess.waits)
}

func TestExtract_ClassifiesFailuresAndAlwaysCloses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		session   *fakeSession
		transient bool
	}{
		{"navigate error", &fakeSession{navigateErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}, true},
		{"wait timeout", &fakeSession{waitErr: fmt.Errorf("%w: title", ErrElementTimeout)}, false},
		{"wait driver error", &fakeSession{waitErr: errors.New("websocket closed")}, true},
		{"title error", &fakeSession{titleErr: errors.New("target crashed")}, true},
		{"empty title", &fakeSession{title: "  "}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newExtractor(t, &fakeFactory{newSession: func() *fakeSession { return tc.session }}, Config{})
			_, err := e.Extract(context.Background(), "https://example.com")
			require.Error(t, err)
			require.Equal(t, tc.transient, scrape.IsTransient(err))
			if !tc.transient {
				var contentErr *scrape.ContentError
				require.ErrorAs(t, err, &contentErr)
			}
			require.Equal(t, 1, tc.session.closed)
		})
	}
}

func TestExtract_OpenFailureIsNetworkError(t *testing.T) {
	t.Parallel()

	e := newExtractor(t, &fakeFactory{openErr: errors.New("hub unreachable")}, Config{})
	_, err := e.Extract(context.Background(), "https://example.com")
	require.True(t, scrape.IsTransient(err))
}

func TestExtract_FreshSessionPerCall(t *testing.T) {
	t.Parallel()

	f := &fakeFactory{newSession: func() *fakeSession { return &fakeSession{title: "t"} }}
	e := newExtractor(t, f, Config{})
	for i := 0; i < 3; i++ {
		_, err := e.Extract(context.Background(), "https://example.com")
		require.NoError(t, err)
	}
	require.Len(t, f.opened, 3)
	for _, s := range f.opened {
		require.Equal(t, 1, s.closed)
	}
}

type blockingSession struct {
	fakeSession
	active  *int32
	maxSeen *int32
}

func (s *blockingSession) Navigate(ctx context.Context, url string) error {
	n := atomic.AddInt32(s.active, 1)
	for {
		seen := atomic.LoadInt32(s.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(s.maxSeen, seen, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	atomic.AddInt32(s.active, -1)
	return s.fakeSession.Navigate(ctx, url)
}

type blockingFactory struct {
	active, maxSeen int32
}

func (f *blockingFactory) Open(context.Context) (Session, error) {
	return &blockingSession{fakeSession: fakeSession{title: "t"}, active: &f.active, maxSeen: &f.maxSeen}, nil
}

func TestExtract_MaxParallelBoundsSessions(t *testing.T) {
	t.Parallel()

	f := &blockingFactory{}
	e := newExtractor(t, f, Config{MaxParallel: 2})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Extract(context.Background(), "https://example.com")
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, atomic.LoadInt32(&f.maxSeen), int32(2))
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{}, nil)
	require.Error(t, err)
	_, err = New(&fakeFactory{}, Config{MaxParallel: -1}, nil)
	require.Error(t, err)
}

func TestChromeFactoryConstructsWithoutLaunching(t *testing.T) {
	t.Parallel()

	local := NewChromeFactory(Config{UserAgent: "scraper-test"})
	require.NotNil(t, local.allocator)
	local.Close()

	remote := NewChromeFactory(Config{RemoteURL: "ws://127.0.0.1:9222/devtools/browser/test"})
	require.NotNil(t, remote.allocator)
	remote.Close()
}
