package vault

import (
	"strings"

	"github.com/sgx-labs/notevault/internal/core"
)

const (
	maxPathBytes   = 256
	maxUserIDBytes = 64
)

// Windows device names are rejected as path segments regardless of host
// platform so a vault stays portable across filesystems.
var reservedNames = map[string]struct{}{
	"con": {}, "prn": {}, "aux": {}, "nul": {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {}, "com5": {},
	"com6": {}, "com7": {}, "com8": {}, "com9": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {}, "lpt5": {},
	"lpt6": {}, "lpt7": {}, "lpt8": {}, "lpt9": {},
}

// ValidateUserID checks a user identifier before it is used as a directory
// name or database key. IDs are 1..64 bytes of [A-Za-z0-9._-] with no
// leading dot.
func ValidateUserID(userID string) error {
	if userID == "" {
		return core.Errorf(core.KindPathInvalid, "", "user id is empty")
	}
	if len(userID) > maxUserIDBytes {
		return core.Errorf(core.KindPathInvalid, "", "user id exceeds %d bytes", maxUserIDBytes)
	}
	if userID[0] == '.' {
		return core.Errorf(core.KindPathInvalid, "", "user id starts with a dot")
	}
	for i := 0; i < len(userID); i++ {
		c := userID[i]
		ok := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '.' || c == '_' || c == '-'
		if !ok {
			return core.Errorf(core.KindPathInvalid, "", "user id contains %q", c)
		}
	}
	return nil
}

// ValidatePath checks a vault-relative note path against the path rules.
// It never touches the filesystem; symlink containment is enforced
// separately when a path is resolved against a vault root.
func ValidatePath(notePath string) error {
	if notePath == "" {
		return core.Errorf(core.KindPathInvalid, notePath, "path is empty")
	}
	if len(notePath) > maxPathBytes {
		return core.Errorf(core.KindPathInvalid, notePath, "path exceeds %d bytes", maxPathBytes)
	}
	if strings.ContainsRune(notePath, '\\') {
		return core.Errorf(core.KindPathInvalid, notePath, "backslash in path")
	}
	for _, r := range notePath {
		if r < 0x20 || r == 0x7f {
			return core.Errorf(core.KindPathInvalid, notePath, "control character in path")
		}
	}
	if strings.HasPrefix(notePath, "/") {
		return core.Errorf(core.KindPathInvalid, notePath, "absolute path")
	}
	if !strings.HasSuffix(notePath, ".md") {
		return core.Errorf(core.KindPathInvalid, notePath, "path must end in .md")
	}

	segments := strings.Split(notePath, "/")
	for i, seg := range segments {
		if seg == "" {
			return core.Errorf(core.KindPathInvalid, notePath, "empty path segment")
		}
		if seg == "." || seg == ".." {
			return core.Errorf(core.KindPathInvalid, notePath, "relative path segment %q", seg)
		}
		if i == len(segments)-1 && strings.TrimSuffix(seg, ".md") == "" {
			return core.Errorf(core.KindPathInvalid, notePath, "empty filename")
		}
		// Windows reserves device names with any extension, so "con.md"
		// and "aux.txt" are as unusable as bare "con". Strip everything
		// from the first dot before the lookup; a leading dot is not an
		// extension separator.
		stem := seg
		if dot := strings.IndexByte(stem, '.'); dot > 0 {
			stem = stem[:dot]
		}
		if _, reserved := reservedNames[strings.ToLower(stem)]; reserved {
			return core.Errorf(core.KindPathInvalid, notePath, "reserved name %q", seg)
		}
	}
	return nil
}

// ValidateFolder checks an optional folder filter for List. Empty means the
// whole vault; otherwise the same segment rules as note paths apply, minus
// the .md suffix.
func ValidateFolder(folder string) error {
	if folder == "" {
		return nil
	}
	// Reuse the note path rules by validating a placeholder file inside
	// the folder.
	return ValidatePath(folder + "/x.md")
}
