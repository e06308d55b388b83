package signing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"thirdcoast.systems/shelf/internal/governor"
	"thirdcoast.systems/shelf/internal/platform"
)

func navServer(t *testing.T, hits *atomic.Int32, cookie *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if cookie != nil {
			cookie.Store(r.Header.Get("Cookie"))
		}
		time.Sleep(10 * time.Millisecond)
		_, _ = w.Write([]byte(`{"code":-101,"message":"账号未登录","data":{"wbi_img":{` +
			`"img_url":"https://i0.hdslb.com/bfs/wbi/` + testImgKey + `.png",` +
			`"sub_url":"https://i0.hdslb.com/bfs/wbi/` + testSubKey + `.png"}}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestSigner(srvURL, cookie string) *Signer {
	g := governor.New(governor.Config{MaxQPS: 1000})
	return NewSigner(g, platform.NewEndpoints(srvURL, srvURL), cookie)
}

func TestSigner_KeyCachedWithinTTL(t *testing.T) {
	var hits atomic.Int32
	var cookie atomic.Value
	srv := navServer(t, &hits, &cookie)

	s := newTestSigner(srv.URL, "SESSDATA=x")
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	key, err := s.Key(context.Background())
	require.NoError(t, err)
	require.Equal(t, testMixin, key)
	require.Equal(t, "SESSDATA=x", cookie.Load())

	now = now.Add(KeyTTL - time.Second)
	_, err = s.Key(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), hits.Load())

	now = now.Add(2 * time.Second)
	_, err = s.Key(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), hits.Load())
}

func TestSigner_ConcurrentRefreshCollapsed(t *testing.T) {
	var hits atomic.Int32
	srv := navServer(t, &hits, nil)
	s := newTestSigner(srv.URL, "")

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Key(context.Background())
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), hits.Load())
}

func TestSigner_CancelledCallerDoesNotFailOthers(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"code":0,"data":{"wbi_img":{` +
			`"img_url":"https://i0.hdslb.com/bfs/wbi/` + testImgKey + `.png",` +
			`"sub_url":"https://i0.hdslb.com/bfs/wbi/` + testSubKey + `.png"}}}`))
	}))
	t.Cleanup(srv.Close)
	s := newTestSigner(srv.URL, "")

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := s.Key(ctx)
		first <- err
	}()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan string, 1)
	go func() {
		key, _ := s.Key(context.Background())
		second <- key
	}()

	cancel()
	require.ErrorIs(t, <-first, context.Canceled)
	close(release)
	require.Equal(t, testMixin, <-second)
	require.Equal(t, int32(1), hits.Load())
}

func TestSigner_MissingFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":{}}`))
	}))
	defer srv.Close()

	_, err := newTestSigner(srv.URL, "").Key(context.Background())
	require.ErrorIs(t, err, ErrNoKeyMaterial)
}

func TestSigner_SignedQuery(t *testing.T) {
	var hits atomic.Int32
	srv := navServer(t, &hits, nil)
	s := newTestSigner(srv.URL, "")
	s.now = func() time.Time { return time.Unix(1700000000, 0) }

	q, err := s.SignedQuery(context.Background(), map[string]any{"bvid": "BV1xx", "cid": 123})
	require.NoError(t, err)
	require.Equal(t, "4628b42705d5ef5766dc27e4a3021874", q.Get("w_rid"))
}
