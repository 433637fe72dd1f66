package audio

import (
	"path"
	"strings"
	"unicode"
)

// AllowedExtensions is the set of accepted audio file extensions.
var AllowedExtensions = map[string]bool{
	"mp3":  true,
	"wav":  true,
	"m4a":  true,
	"flac": true,
	"ogg":  true,
}

// Extension returns the lowercase extension of name without the dot, or "".
func Extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// Allowed reports whether name carries an allow-listed extension.
func Allowed(name string) bool {
	return AllowedExtensions[Extension(name)]
}

// SanitizeFilename reduces a client-supplied name to a safe single path
// component: separators become spaces, runs of whitespace become "_", only
// ASCII letters, digits, '_', '.' and '-' survive, and leading/trailing dots
// and underscores are trimmed. The result may be empty.
func SanitizeFilename(name string) string {
	name = strings.NewReplacer("/", " ", "\\", " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")

	var b strings.Builder
	for _, r := range name {
		switch {
		case r > unicode.MaxASCII:
			continue
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "._")
}

// FilenameFromURL derives a file name from the path of rawURL, ignoring the
// query string and fragment. Returns "" when the path has no usable base.
func FilenameFromURL(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	if i := strings.Index(rawURL, "://"); i >= 0 {
		rest := rawURL[i+3:]
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			return ""
		}
		rawURL = rest[slash:]
	}
	base := path.Base(rawURL)
	if base == "/" || base == "." {
		return ""
	}
	return base
}
