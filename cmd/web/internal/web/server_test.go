package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"thirdcoast.systems/shelf/internal/application"
	"thirdcoast.systems/shelf/internal/config"
)

const testBVID = "BV1Ab4y1X7Zq"

type fakeUpstream struct {
	srv    *httptest.Server
	covers atomic.Int32
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	u := &fakeUpstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/x/player/pagelist", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":[` +
			`{"page":1,"cid":11,"part":"第一集","duration":60},` +
			`{"page":2,"cid":22,"part":"第二集","duration":90}]}`))
	})
	mux.HandleFunc("/video/"+testBVID, func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host
		_, _ = w.Write([]byte(`<script>window.__INITIAL_STATE__={"videoData":{"pages":[` +
			`{"page":1,"cid":11,"part":"第一集","duration":60,"first_frame":"` + base + `/cover/1.jpg"},` +
			`{"page":2,"cid":22,"part":"第二集","duration":90}]}};(function(){})</script>`))
	})
	mux.HandleFunc("/cover/", func(w http.ResponseWriter, r *http.Request) {
		u.covers.Add(1)
		_, _ = w.Write([]byte("JPEGDATA"))
	})
	mux.HandleFunc("/x/web-interface/nav", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":-101,"data":{"wbi_img":{` +
			`"img_url":"https://i0.hdslb.com/bfs/wbi/7cd084941338484aae1ad9425b84077c.png",` +
			`"sub_url":"https://i0.hdslb.com/bfs/wbi/4932caff0ff746eab6f01bf08b70ac45.png"}}}`))
	})
	mux.HandleFunc("/x/player/wbi/v2", func(w http.ResponseWriter, r *http.Request) {
		tracks := `[]`
		if r.URL.Query().Get("cid") == "11" {
			tracks = `[{"lan":"ai-zh","ai_type":1,"subtitle_url":"http://` + r.Host + `/sub/ai.json"},` +
				`{"lan":"zh-CN","ai_type":0,"subtitle_url":"http://` + r.Host + `/sub/human.json"}]`
		}
		_, _ = w.Write([]byte(`{"code":0,"data":{"subtitle":{"subtitles":` + tracks + `}}}`))
	})
	mux.HandleFunc("/sub/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"body":[{"from":0,"to":1.5,"content":"` + filepath.Base(r.URL.Path) + `"}]}`))
	})
	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

type testEnv struct {
	server   *Webserver
	conf     *config.Config
	upstream *fakeUpstream
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	u := newFakeUpstream(t)
	root := t.TempDir()
	conf := &config.Config{
		WebServerPort:  8000,
		VideosDir:      filepath.Join(root, "videos"),
		CoversDir:      filepath.Join(root, "covers"),
		SubtitlesDir:   filepath.Join(root, "subtitles"),
		BilibiliCookie: "SESSDATA=test",
		APIBaseURL:     u.srv.URL,
		WebBaseURL:     u.srv.URL,
		Outbound: config.OutboundConfig{
			MaxConcurrency:     4,
			MaxQPS:             1000,
			MaxCooldownSeconds: 1,
			Timeout:            5 * time.Second,
		},
		Merge: config.MergeConfig{
			Workers:       1,
			QueueSize:     4,
			StreamQuality: 80,
			FFmpegPath:    "ffmpeg",
		},
		LogLevel: "info",
	}

	show := filepath.Join(conf.VideosDir, "动画")
	require.NoError(t, os.MkdirAll(show, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(conf.VideosDir, "纪录片"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(show, "list.txt"),
		[]byte("# mirrored\n\nhttps://www.bilibili.com/video/"+testBVID+"?p=1\n"), 0o644))

	services, err := application.NewServices(conf)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, services.Start(ctx))
	t.Cleanup(func() {
		cancel()
		services.Close()
	})

	server, err := NewWebserver(services)
	require.NoError(t, err)
	return &testEnv{server: server, conf: conf, upstream: u}
}

func (env *testEnv) get(t *testing.T, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestFolders(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/api/folders")
	require.Equal(t, http.StatusOK, rec.Code)
	folders := decode[[]map[string]any](t, rec)
	require.Len(t, folders, 2)

	byName := map[string]map[string]any{}
	for _, f := range folders {
		byName[f["name"].(string)] = f
	}
	require.Equal(t, true, byName["动画"]["has_list_file"])
	require.Equal(t, false, byName["纪录片"]["has_list_file"])
	require.Equal(t, "动画", byName["动画"]["path"])

	rec = env.get(t, "/api/folders?path=missing")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFolderParts(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/api/folders/%E5%8A%A8%E7%94%BB")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	parts := decode[[]partJSON](t, rec)
	require.Len(t, parts, 2)
	require.Equal(t, partJSON{Title: "第一集", Page: 1, Duration: 60, CID: 11, BVID: testBVID}, parts[0])

	rec = env.get(t, "/api/folders/%E7%BA%AA%E5%BD%95%E7%89%87")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.get(t, "/api/folders/..%2F..%2Fetc")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type partJSON struct {
	Title    string `json:"title"`
	Page     int    `json:"page"`
	Duration int    `json:"duration"`
	CID      int64  `json:"cid"`
	BVID     string `json:"bvid"`
}

func TestFolderDetails(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/api/folders/%E5%8A%A8%E7%94%BB/details")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	details := decode[[]struct {
		Page        int    `json:"page"`
		CoverSource string `json:"cover_source"`
		HasSubtitle bool   `json:"has_subtitle"`
	}](t, rec)
	require.Len(t, details, 2)
	require.Equal(t, 1, details[0].Page)
	require.True(t, strings.HasSuffix(details[0].CoverSource, "/cover/1.jpg"))
	require.True(t, details[0].HasSubtitle)
	require.Equal(t, "", details[1].CoverSource)
	require.False(t, details[1].HasSubtitle)
}

func TestCovers(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/api/cover/"+testBVID+"/1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[map[string]any](t, rec)
	require.Equal(t, "/covers/"+testBVID+"_p1.jpg", first["cover_url"])
	require.Equal(t, false, first["cached"])

	rec = env.get(t, "/api/cover/"+testBVID+"/1")
	second := decode[map[string]any](t, rec)
	require.Equal(t, true, second["cached"])
	require.Equal(t, int32(1), env.upstream.covers.Load())

	rec = env.get(t, "/api/cover/"+testBVID+"/2")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "", decode[map[string]any](t, rec)["cover_url"])

	rec = env.get(t, "/api/batch/covers/"+testBVID+"?pages=1,2,x")
	require.Equal(t, http.StatusOK, rec.Code)
	batch := decode[struct {
		Covers map[string]string `json:"covers"`
	}](t, rec)
	require.Equal(t, map[string]string{"1": "/covers/" + testBVID + "_p1.jpg"}, batch.Covers)

	rec = env.get(t, "/api/cover/"+testBVID+"/zero")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCoverFileServing(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, "/api/cover/"+testBVID+"/1")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.get(t, "/covers/"+testBVID+"_p1.jpg")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "JPEGDATA", rec.Body.String())
	require.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec = env.get(t, "/covers/"+testBVID+"_p1.jpg", "If-None-Match", etag)
	require.Equal(t, http.StatusNotModified, rec.Code)

	rec = env.get(t, "/covers/missing.jpg")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubtitle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/api/subtitle/%E5%8A%A8%E7%94%BB/1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[map[string]string](t, rec)
	require.Equal(t, "/subtitles/"+testBVID+"_p1.vtt", resp["subtitle_url"])

	rec = env.get(t, resp["subtitle_url"])
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/vtt"))
	require.True(t, strings.HasPrefix(rec.Body.String(), "WEBVTT"))
	require.Contains(t, rec.Body.String(), "human.json")
	require.NotContains(t, rec.Body.String(), "ai.json")

	rec = env.get(t, "/api/subtitle/%E5%8A%A8%E7%94%BB/2")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.get(t, "/api/subtitle/%E5%8A%A8%E7%94%BB/9")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.get(t, "/api/subtitle/%E5%8A%A8%E7%94%BB/first")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlay_ExistingFile(t *testing.T) {
	env := newTestEnv(t)
	video := filepath.Join(env.conf.VideosDir, "动画", "第一集.mp4")
	require.NoError(t, os.WriteFile(video, []byte("0123456789"), 0o644))

	rec := env.get(t, "/api/play/%E5%8A%A8%E7%94%BB/1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[struct {
		Status      string  `json:"status"`
		JobID       string  `json:"job_id"`
		VideoURL    string  `json:"video_url"`
		SubtitleURL *string `json:"subtitle_url"`
	}](t, rec)
	require.Equal(t, "ready", resp.Status)
	require.Equal(t, "/static/%E5%8A%A8%E7%94%BB/%E7%AC%AC%E4%B8%80%E9%9B%86.mp4", resp.VideoURL)
	require.NotNil(t, resp.SubtitleURL)
	require.Equal(t, "/subtitles/"+testBVID+"_p1.vtt", *resp.SubtitleURL)

	rec = env.get(t, "/api/jobs/"+resp.JobID)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[map[string]any](t, rec)
	require.Equal(t, "completed", status["state"])
	require.Equal(t, video, status["path"])

	rec = env.get(t, resp.VideoURL, "Range", "bytes=2-5")
	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, "2345", rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("ETag"))
}

func TestPlay_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name   string
		target string
		status int
	}{
		{"page not a number", "/api/play/%E5%8A%A8%E7%94%BB/x", http.StatusBadRequest},
		{"missing folder", "/api/play/1", http.StatusBadRequest},
		{"unknown page", "/api/play/%E5%8A%A8%E7%94%BB/7", http.StatusNotFound},
		{"folder without list", "/api/play/%E7%BA%AA%E5%BD%95%E7%89%87/1", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.get(t, tc.target)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestJobStatus_Unknown(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, "/api/jobs/does-not-exist")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStaticFile_Traversal(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, "/static/..%2F..%2Fetc/passwd")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
