package domain

// SourceMode says where the payload currently lives.
type SourceMode string

const (
	ModeAlreadyPresent SourceMode = "already_present"
	ModeLocalBundle    SourceMode = "local_bundle"
	ModeRemote         SourceMode = "remote"
)

// PayloadLocation is the outcome of source resolution.
// Path is set for ModeAlreadyPresent (the payload) and ModeLocalBundle (the archive).
// URL is set for ModeRemote.
type PayloadLocation struct {
	Mode SourceMode `json:"mode"`
	Path string     `json:"path,omitempty"`
	URL  string     `json:"url,omitempty"`
}

// NeedsExtraction reports whether the payload still has to be unpacked.
func (l PayloadLocation) NeedsExtraction() bool {
	return l.Mode == ModeLocalBundle || l.Mode == ModeRemote
}

// Origin returns the path or URL the location points at.
func (l PayloadLocation) Origin() string {
	if l.Mode == ModeRemote {
		return l.URL
	}
	return l.Path
}
