package library

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	filenames []string
}

func (n *recordingNotifier) NotifyPlaylistChanged(ctx context.Context, filename string) {
	n.filenames = append(n.filenames, filename)
}

func newTestLibrary(t *testing.T) (*httptest.Server, string, *recordingNotifier) {
	t.Helper()
	dir := t.TempDir()
	notify := &recordingNotifier{}
	ts := httptest.NewServer(NewServer(dir, notify).Router())
	t.Cleanup(ts.Close)
	return ts, dir, notify
}

func uploadRequest(t *testing.T, url, filename string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audioFile", filename)
	require.NoError(t, err)
	fw.Write(content)
	mw.Close()

	resp, err := http.Post(url+"/api/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestLibrary_ListFiltersAndSorts(t *testing.T) {
	ts, dir, _ := newTestLibrary(t)

	for _, name := range []string{"zebra.mp3", "alpha.flac", "notes.txt", "cover.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.mp3"), 0o755))

	resp, err := http.Get(ts.URL + "/api/audio-files")
	require.NoError(t, err)
	defer resp.Body.Close()

	var files []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&files))
	assert.Equal(t, []string{"alpha.flac", "zebra.mp3"}, files)
}

func TestLibrary_UploadAcceptedBroadcastsOnce(t *testing.T) {
	ts, dir, notify := newTestLibrary(t)

	resp := uploadRequest(t, ts.URL, "song.mp3", []byte("audio bytes"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Filename string `json:"filename"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "song.mp3", body.Filename)

	_, err := os.Stat(filepath.Join(dir, "song.mp3"))
	assert.NoError(t, err, "uploaded file must exist on disk")
	assert.Equal(t, []string{"song.mp3"}, notify.filenames, "exactly one change broadcast")
}

func TestLibrary_UploadRejectedWithoutBroadcast(t *testing.T) {
	ts, dir, notify := newTestLibrary(t)

	resp := uploadRequest(t, ts.URL, "notes.txt", []byte("not audio"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected upload must leave the directory untouched")
	assert.Empty(t, notify.filenames, "rejected upload must not broadcast")
}

func TestLibrary_UploadMissingField(t *testing.T) {
	ts, _, _ := newTestLibrary(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("other", "value")
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLibrary_Delete(t *testing.T) {
	ts, dir, notify := newTestLibrary(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "song.mp3"), []byte("x"), 0o644))

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/delete/song.mp3", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = os.Stat(filepath.Join(dir, "song.mp3"))
	assert.True(t, os.IsNotExist(err), "file must be gone after delete")
	assert.Equal(t, []string{"song.mp3"}, notify.filenames)

	// Deleting again answers 404 with a JSON error body, no broadcast.
	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/api/delete/song.mp3", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Error)
	assert.Len(t, notify.filenames, 1, "missing file must not broadcast")
}

func TestLibrary_Serve(t *testing.T) {
	ts, dir, _ := newTestLibrary(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "song.mp3"), []byte("audio bytes"), 0o644))

	resp, err := http.Get(ts.URL + "/audio/song.mp3")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "audio bytes", string(data))
}

func TestCleanFilename(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"song.mp3", true},
		{"", false},
		{"../song.mp3", false},
		{"a/../b.mp3", false},
		{"dir/song.mp3", false},
	}
	for _, tc := range cases {
		_, err := cleanFilename(tc.in)
		if tc.ok {
			assert.NoError(t, err, tc.in)
		} else {
			assert.Error(t, err, tc.in)
		}
	}
}
