package model

// Podcast represents a podcast channel.
//
// The download engine only reads the credentials and the cover URL; the
// rest is carried along for naming, tagging and hook environments.
type Podcast struct {
	// Title is the channel title.
	Title string `json:"title"`

	// URL is the feed URL of the channel.
	URL string `json:"url"`

	// Username and Password are sent when a media server asks for
	// HTTP authentication. Both empty means "no credentials".
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// CoverURL points at the channel artwork. Empty if unknown.
	CoverURL string `json:"cover_url,omitempty"`
}

// HasCredentials reports whether a username or password is configured.
func (p *Podcast) HasCredentials() bool {
	return p != nil && (p.Username != "" || p.Password != "")
}

// HasCover reports whether cover art is available for download.
func (p *Podcast) HasCover() bool {
	return p != nil && p.CoverURL != ""
}
