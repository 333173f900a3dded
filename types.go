package tunegate

// Page is the catalog API's pagination envelope.
type Page[T any] struct {
	Items    []T    `json:"items"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
	Total    int    `json:"total"`
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
}

// PageParams selects a window of a paginated listing.
type PageParams struct {
	Limit  int
	Offset int
}

// UserProfile is the authenticated user's catalog profile.
type UserProfile struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Email       string  `json:"email,omitempty"`
	Country     string  `json:"country,omitempty"`
	Product     string  `json:"product,omitempty"`
	Images      []Image `json:"images,omitempty"`
}

// Image is an artwork reference with optional dimensions.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Playlist is a catalog playlist summary.
type Playlist struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Public        bool          `json:"public"`
	Collaborative bool          `json:"collaborative"`
	Owner         PlaylistOwner `json:"owner"`
	Images        []Image       `json:"images,omitempty"`
	TrackCount    int           `json:"track_count"`
	SnapshotID    string        `json:"snapshot_id,omitempty"`
}

// PlaylistOwner identifies who owns a playlist.
type PlaylistOwner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// PlaylistTrack is one entry in a playlist, wrapping the track with
// playlist-specific metadata.
type PlaylistTrack struct {
	AddedAt string `json:"added_at,omitempty"`
	AddedBy string `json:"added_by,omitempty"`
	Track   Track  `json:"track"`
}

// Track is a catalog track.
type Track struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Artists    []Artist `json:"artists"`
	Album      Album    `json:"album"`
	DurationMs int      `json:"duration_ms"`
	Explicit   bool     `json:"explicit"`
	PreviewURL string   `json:"preview_url,omitempty"`
}

// Artist is a catalog artist reference.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Album is a catalog album reference.
type Album struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	ReleaseDate string  `json:"release_date,omitempty"`
	Images      []Image `json:"images,omitempty"`
}

// SearchResults groups search hits by resource kind; absent kinds are nil.
type SearchResults struct {
	Tracks    *Page[Track]    `json:"tracks,omitempty"`
	Playlists *Page[Playlist] `json:"playlists,omitempty"`
	Albums    *Page[Album]    `json:"albums,omitempty"`
	Artists   *Page[Artist]   `json:"artists,omitempty"`
}

// SessionInfo reports a user's authentication status without exposing
// credential material.
type SessionInfo struct {
	UserID        string `json:"user_id"`
	Authenticated bool   `json:"authenticated"`
	ExpiresAt     string `json:"expires_at,omitempty"`
	Scope         string `json:"scope,omitempty"`
}
