package gallery

// TagKind is the category the site assigns to a tag
type TagKind string

const (
	TagKindCopyright TagKind = "copyright"
	TagKindCharacter TagKind = "character"
	TagKindArtist    TagKind = "artist"
	TagKindGeneral   TagKind = "general"
	TagKindMetadata  TagKind = "metadata"
)

// Valid reports whether k is one of the known kinds
func (k TagKind) Valid() bool {
	switch k {
	case TagKindCopyright, TagKindCharacter, TagKindArtist, TagKindGeneral, TagKindMetadata:
		return true
	default:
		return false
	}
}

// Tag is a named label attached to a post. Names never contain spaces.
type Tag struct {
	Name string  `json:"name"`
	Kind TagKind `json:"kind"`
}

// Asset is a downloaded binary file
type Asset struct {
	Data        []byte
	ContentType string
	// Filename is the last path segment of the asset URL
	Filename string
}

// Post is everything the local store needs to mirror one favorite
type Post struct {
	ID    int
	Image Asset
	Tags  []Tag
}
