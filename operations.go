package tunegate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tunegate/tunegate/cache"
)

// Pagination bounds enforced before the upstream sees a request
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 50
)

// Search result kinds accepted by Search. An empty slice requests all kinds.
const (
	SearchTypeTrack    = "track"
	SearchTypePlaylist = "playlist"
	SearchTypeAlbum    = "album"
	SearchTypeArtist   = "artist"
)

// MaxSearchQueryLength bounds a search query before it reaches the upstream
const MaxSearchQueryLength = 256

// normalize clamps pagination to the accepted range.
func (p PageParams) normalize() PageParams {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// params returns the query parameters for a paginated listing.
func (p PageParams) params() map[string]string {
	return map[string]string{
		"limit":  strconv.Itoa(p.Limit),
		"offset": strconv.Itoa(p.Offset),
	}
}

// CurrentUser fetches the authenticated user's profile.
func (c *Core) CurrentUser(ctx context.Context, userID string) (*UserProfile, error) {
	payload, err := c.request(ctx, requestOptions{
		endpoint: "/me",
		method:   http.MethodGet,
		userID:   userID,
		useCache: true,
		resource: cache.ResourceProfile,
	})
	if err != nil {
		return nil, err
	}

	var profile UserProfile
	if err := json.Unmarshal(payload, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile response: %w", err)
	}
	return &profile, nil
}

// Playlists lists the user's playlists, paginated.
func (c *Core) Playlists(ctx context.Context, userID string, page PageParams) (*Page[Playlist], error) {
	page = page.normalize()

	payload, err := c.request(ctx, requestOptions{
		endpoint: "/me/playlists",
		method:   http.MethodGet,
		params:   page.params(),
		userID:   userID,
		useCache: true,
		resource: cache.ResourcePlaylists,
	})
	if err != nil {
		return nil, err
	}

	var playlists Page[Playlist]
	if err := json.Unmarshal(payload, &playlists); err != nil {
		return nil, fmt.Errorf("failed to decode playlists response: %w", err)
	}
	return &playlists, nil
}

// Playlist fetches a single playlist by ID.
func (c *Core) Playlist(ctx context.Context, userID, playlistID string) (*Playlist, error) {
	if playlistID == "" {
		return nil, ErrInvalidRequest("playlist ID is required")
	}

	payload, err := c.request(ctx, requestOptions{
		endpoint: "/playlists/" + url.PathEscape(playlistID),
		method:   http.MethodGet,
		userID:   userID,
		useCache: true,
		resource: cache.ResourcePlaylist,
	})
	if err != nil {
		return nil, err
	}

	var playlist Playlist
	if err := json.Unmarshal(payload, &playlist); err != nil {
		return nil, fmt.Errorf("failed to decode playlist response: %w", err)
	}
	return &playlist, nil
}

// PlaylistTracks lists a playlist's tracks, paginated.
func (c *Core) PlaylistTracks(ctx context.Context, userID, playlistID string, page PageParams) (*Page[PlaylistTrack], error) {
	if playlistID == "" {
		return nil, ErrInvalidRequest("playlist ID is required")
	}
	page = page.normalize()

	payload, err := c.request(ctx, requestOptions{
		endpoint: "/playlists/" + url.PathEscape(playlistID) + "/tracks",
		method:   http.MethodGet,
		params:   page.params(),
		userID:   userID,
		useCache: true,
		resource: cache.ResourceTracks,
	})
	if err != nil {
		return nil, err
	}

	var tracks Page[PlaylistTrack]
	if err := json.Unmarshal(payload, &tracks); err != nil {
		return nil, fmt.Errorf("failed to decode playlist tracks response: %w", err)
	}
	return &tracks, nil
}

// Search queries the catalog. types selects the result kinds; empty means all.
func (c *Core) Search(ctx context.Context, userID, query string, types []string, page PageParams) (*SearchResults, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidRequest("search query is required")
	}
	if len(query) > MaxSearchQueryLength {
		return nil, ErrInvalidRequest(fmt.Sprintf("search query exceeds %d characters", MaxSearchQueryLength))
	}

	kinds, err := normalizeSearchTypes(types)
	if err != nil {
		return nil, err
	}
	page = page.normalize()

	params := page.params()
	params["q"] = query
	params["type"] = strings.Join(kinds, ",")

	payload, err := c.request(ctx, requestOptions{
		endpoint: "/search",
		method:   http.MethodGet,
		params:   params,
		userID:   userID,
		useCache: true,
		resource: cache.ResourceSearch,
	})
	if err != nil {
		return nil, err
	}

	var results SearchResults
	if err := json.Unmarshal(payload, &results); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &results, nil
}

// normalizeSearchTypes validates and deduplicates the requested result kinds,
// defaulting to every kind when none are given. Order is preserved so the
// canonical cache key stays stable for a given caller.
func normalizeSearchTypes(types []string) ([]string, error) {
	if len(types) == 0 {
		return []string{SearchTypeTrack, SearchTypePlaylist, SearchTypeAlbum, SearchTypeArtist}, nil
	}

	seen := make(map[string]bool, len(types))
	kinds := make([]string, 0, len(types))
	for _, t := range types {
		kind := strings.ToLower(strings.TrimSpace(t))
		switch kind {
		case SearchTypeTrack, SearchTypePlaylist, SearchTypeAlbum, SearchTypeArtist:
		default:
			return nil, ErrInvalidRequest(fmt.Sprintf("unknown search type %q", t))
		}
		if !seen[kind] {
			seen[kind] = true
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}
