package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"syncroom/internal/room"
)

// DefaultBaseURL is the public GitHub REST API.
const DefaultBaseURL = "https://api.github.com"

var supportedExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".ogg":  true,
	".m4a":  true,
	".aac":  true,
	".flac": true,
	".opus": true,
}

// Client lists audio files from a repository directory and maps them to
// importable tracks.
type Client struct {
	owner   string
	repo    string
	branch  string
	path    string
	baseURL string
	http    *http.Client
}

func NewClient(owner, repo, branch, dir, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if branch == "" {
		branch = "main"
	}
	return &Client{
		owner:   owner,
		repo:    repo,
		branch:  branch,
		path:    dir,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type contentsEntry struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	SHA         string `json:"sha"`
	DownloadURL string `json:"download_url"`
}

// ListAudioFiles fetches the repository directory listing and returns the
// supported audio files as tracks tagged with imported provenance. Track ids
// are derived from the blob SHA, so they stay stable across renames of the
// surrounding playlist.
func (c *Client) ListAudioFiles(ctx context.Context) ([]room.Track, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s",
		c.baseURL, c.owner, c.repo, c.path, c.branch)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github status %d", resp.StatusCode)
	}

	var entries []contentsEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, err
	}

	tracks := make([]room.Track, 0, len(entries))
	for _, e := range entries {
		if e.Type != "file" {
			continue
		}
		ext := strings.ToLower(path.Ext(e.Name))
		if !supportedExtensions[ext] {
			continue
		}
		url := e.DownloadURL
		if url == "" {
			url = fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s/%s",
				c.owner, c.repo, c.branch, c.path, e.Name)
		}
		tracks = append(tracks, room.Track{
			ID:       "github_" + e.SHA,
			Filename: e.Name,
			Title:    strings.TrimSuffix(e.Name, path.Ext(e.Name)),
			URL:      url,
			Source:   room.SourceImported,
		})
	}
	return tracks, nil
}
