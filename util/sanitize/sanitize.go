package sanitize

import (
	"regexp"
	"strings"
)

var (
	// folderDisallowed matches everything outside the folder-name alphabet
	folderDisallowed = regexp.MustCompile(`[^A-Za-z0-9._-]`)

	// shellSafe matches words that need no quoting in a POSIX shell
	shellSafe = regexp.MustCompile(`^[A-Za-z0-9_./:=@%+-]+$`)
)

// ForFolderName strips every character outside [A-Za-z0-9._-].
// The result may be empty; callers decide whether that is an error.
func ForFolderName(s string) string {
	return folderDisallowed.ReplaceAllString(s, "")
}

// IsUsableFolderName reports whether a sanitized name can be joined under a
// root directory without escaping it.
func IsUsableFolderName(s string) bool {
	return s != "" && s != "." && s != ".." && ForFolderName(s) == s
}

// ShellQuote quotes s for a POSIX shell script.
func ShellQuote(s string) string {
	if s != "" && shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
