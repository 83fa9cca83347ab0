package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeContentAPI mimics the server's two-step read and multipart write-back.
type fakeContentAPI struct {
	content  map[string]string // path -> body
	saveFail bool
	saves    int
}

func newFakeContentAPI(t *testing.T) (*fakeContentAPI, *httptest.Server) {
	t.Helper()
	api := &fakeContentAPI{content: map[string]string{}}

	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("GET /api/libraries/{id}/file", func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Query().Get("p")
		if _, ok := api.content[p]; !ok {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(fmt.Sprintf("%s/files/tok123/%s", srv.URL, p[1:]))
	})
	mux.HandleFunc("GET /api/libraries/{id}/file/detail", func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Query().Get("p")
		body, ok := api.content[p]
		if !ok {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"name": p[1:], "size": len(body), "mtime": 1700000000})
	})
	mux.HandleFunc("GET /files/tok123/{name}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, api.content["/"+r.PathValue("name")])
	})
	mux.HandleFunc("GET /api/libraries/{id}/update-link", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(srv.URL + "/files/upload/up456")
	})
	mux.HandleFunc("POST /files/upload/up456", func(w http.ResponseWriter, r *http.Request) {
		if api.saveFail {
			http.Error(w, `{"error":"quota exceeded"}`, http.StatusInternalServerError)
			return
		}
		require.NoError(t, r.ParseMultipartForm(1<<20))
		target := r.FormValue("target_file")
		part, _, err := r.FormFile("file")
		require.NoError(t, err)
		body, err := io.ReadAll(part)
		require.NoError(t, err)
		api.content[target] = string(body)
		api.saves++
		json.NewEncoder(w).Encode([]map[string]any{{"name": r.FormValue("filename")}})
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return api, srv
}

func TestGatewayFetchContentTwoStep(t *testing.T) {
	api, srv := newFakeContentAPI(t)
	api.content["/notes.md"] = "# Hello\n"

	gw := NewGateway(srv.URL, zerolog.Nop())
	body, err := gw.FetchContent(context.Background(), "repo1", "/notes.md")
	require.NoError(t, err)
	require.Equal(t, "# Hello\n", body)
}

func TestGatewayFetchContentMissingFile(t *testing.T) {
	_, srv := newFakeContentAPI(t)

	gw := NewGateway(srv.URL, zerolog.Nop())
	_, err := gw.FetchContent(context.Background(), "repo1", "/absent.md")
	require.Error(t, err)
}

func TestGatewayDetail(t *testing.T) {
	api, srv := newFakeContentAPI(t)
	api.content["/notes.md"] = "body"

	gw := NewGateway(srv.URL, zerolog.Nop())
	detail, err := gw.Detail(context.Background(), "repo1", "/notes.md")
	require.NoError(t, err)
	require.Equal(t, "notes.md", detail.Name)
	require.EqualValues(t, 4, detail.Size)
}

func TestGatewaySaveWritesBack(t *testing.T) {
	api, srv := newFakeContentAPI(t)
	api.content["/notes.md"] = "old"

	gw := NewGateway(srv.URL, zerolog.Nop())
	require.NoError(t, gw.Save(context.Background(), "repo1", "/notes.md", "new content"))
	require.Equal(t, 1, api.saves)
	require.Equal(t, "new content", api.content["/notes.md"])
}

func TestGatewaySaveFailureIsRecoverable(t *testing.T) {
	api, srv := newFakeContentAPI(t)
	api.saveFail = true

	gw := NewGateway(srv.URL, zerolog.Nop())
	err := gw.Save(context.Background(), "repo1", "/notes.md", "content")
	require.ErrorIs(t, err, ErrSaveFailed)
}

func TestSessionLoadContentDiscardedAfterClose(t *testing.T) {
	api, srv := newFakeContentAPI(t)
	api.content["/notes.md"] = "body"
	_, wsURL := startSignalServer(t)

	ch := openTestChannel(t, wsURL)
	s := OpenDocumentSession(ch, "repo1", "/notes.md", "alice", zerolog.Nop(), SessionOptions{})

	gw := NewGateway(srv.URL, zerolog.Nop())

	// A completion that lands after teardown must be discarded.
	s.Close()
	_, err := s.LoadContent(context.Background(), gw)
	require.ErrorIs(t, err, ErrSessionClosed)
}
