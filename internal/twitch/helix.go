package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"clipvault/internal/types"
)

// ClipsFloor is the public launch of the Helix clips feature. No clip can
// exist before it, so window plans never start earlier.
var ClipsFloor = time.Date(2016, time.May, 26, 0, 0, 0, 0, time.UTC)

// gamesBatchLimit is the Helix maximum for ids per games lookup.
const gamesBatchLimit = 100

// Client is the typed Helix API client used by the archive pipeline.
type Client struct {
	base     *BaseClient
	tokens   *TokenSource
	apiBase  string
	clientID string

	pageSize  int
	maxPages  int
	pageDelay time.Duration
	sleepFn   func(time.Duration)
	logger    *slog.Logger
}

// ClientConfig holds the configuration for creating a Client.
type ClientConfig struct {
	APIBaseURL string
	ClientID   string
	PageSize   int
	MaxPages   int
	PageDelay  time.Duration
	Logger     *slog.Logger

	// SleepFn overrides inter-page pacing sleep for tests.
	SleepFn func(time.Duration)
}

// NewClient creates a Helix client on top of the given BaseClient and
// TokenSource.
func NewClient(base *BaseClient, tokens *TokenSource, cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sleepFn := cfg.SleepFn
	if sleepFn == nil {
		sleepFn = time.Sleep
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 30
	}
	return &Client{
		base:      base,
		tokens:    tokens,
		apiBase:   cfg.APIBaseURL,
		clientID:  cfg.ClientID,
		pageSize:  pageSize,
		maxPages:  maxPages,
		pageDelay: cfg.PageDelay,
		sleepFn:   sleepFn,
		logger:    logger,
	}
}

// ForceTokenRefresh proactively rotates the bearer token. The job
// controller calls this on a window cadence because a full backfill can
// outlive a token's lifetime.
func (c *Client) ForceTokenRefresh(ctx context.Context) error {
	return c.tokens.ForceRefresh(ctx)
}

// get performs an authenticated GET against the Helix API. A 401 triggers
// one token refresh and one retry; any other non-2xx is mapped to a
// permanent upstream failure.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.apiBase+path+"?"+query.Encode(), nil)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "building request", err)
		}
		req.Header.Set("Client-Id", c.clientID)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.base.Do(req)
		if err != nil {
			return nil, err
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamBadResponse, "reading response body", readErr)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusUnauthorized && attempt == 0:
			c.logger.WarnContext(ctx, "helix returned 401, refreshing token", "path", path)
			if err := c.tokens.ForceRefresh(ctx); err != nil {
				return nil, err
			}
			continue
		default:
			return nil, types.NewAppError(types.ErrCodeUpstreamBadResponse,
				fmt.Sprintf("helix %s returned %d", path, resp.StatusCode),
				fmt.Errorf("%s", body))
		}
	}
}

// ResolveChannel looks up a channel by login name. Returns nil when the
// login does not exist upstream.
func (c *Client) ResolveChannel(ctx context.Context, login string) (*types.Broadcaster, error) {
	body, err := c.get(ctx, "/users", url.Values{"login": {login}})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Data []types.Broadcaster `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamBadResponse, "decoding users response", err)
	}
	if len(payload.Data) == 0 {
		return nil, nil
	}
	return &payload.Data[0], nil
}

// FetchClips pages through all clips for a broadcaster within the window,
// invoking page for each batch of records. Pagination advances via the
// opaque cursor from the response, bounded by the page cap, with a fixed
// pacing delay between pages. Returns the number of pages fetched.
func (c *Client) FetchClips(ctx context.Context, broadcasterID string, w types.Window, page func([]types.ClipRecord) error) (int, error) {
	cursor := ""
	pages := 0
	for {
		query := url.Values{
			"broadcaster_id": {broadcasterID},
			"started_at":     {w.Start.UTC().Format(time.RFC3339)},
			"ended_at":       {w.End.UTC().Format(time.RFC3339)},
			"first":          {strconv.Itoa(c.pageSize)},
		}
		if cursor != "" {
			query.Set("after", cursor)
		}

		body, err := c.get(ctx, "/clips", query)
		if err != nil {
			return pages, err
		}

		var payload struct {
			Data       []types.ClipRecord `json:"data"`
			Pagination struct {
				Cursor string `json:"cursor"`
			} `json:"pagination"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return pages, types.NewAppError(types.ErrCodeUpstreamBadResponse, "decoding clips response", err)
		}

		pages++
		if len(payload.Data) > 0 {
			if err := page(payload.Data); err != nil {
				return pages, err
			}
		}

		if payload.Pagination.Cursor == "" || len(payload.Data) == 0 {
			return pages, nil
		}
		if pages >= c.maxPages {
			// Safety cap against runaway cursors on API misbehavior.
			c.logger.WarnContext(ctx, "page cap reached for window",
				"broadcaster_id", broadcasterID,
				"window_start", w.Start,
				"pages", pages,
			)
			return pages, nil
		}

		cursor = payload.Pagination.Cursor
		if c.pageDelay > 0 {
			c.sleepFn(c.pageDelay)
		}
	}
}

// ResolveGames looks up up to 100 game ids and returns their display
// metadata. Ids unknown upstream are simply absent from the result.
func (c *Client) ResolveGames(ctx context.Context, ids []string) ([]types.Game, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > gamesBatchLimit {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("games batch of %d exceeds limit %d", len(ids), gamesBatchLimit), nil)
	}

	query := url.Values{"id": ids}
	body, err := c.get(ctx, "/games", query)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Data []struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			BoxArtURL string `json:"box_art_url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamBadResponse, "decoding games response", err)
	}

	games := make([]types.Game, 0, len(payload.Data))
	for _, g := range payload.Data {
		games = append(games, types.Game{GameID: g.ID, Name: g.Name, BoxArtURL: g.BoxArtURL})
	}
	return games, nil
}

// GamesBatchLimit exposes the Helix games lookup limit for callers that
// need to chunk id lists.
func GamesBatchLimit() int { return gamesBatchLimit }
