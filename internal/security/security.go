// Package security implements request validation, fault injection, and
// audit logging for Fundi.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Validation error codes. These travel to API clients verbatim, so the set
// is closed — new rejection reasons get new named codes here.
const (
	CodeInvalidPath      = "invalid_path"
	CodePathTooLong      = "path_too_long"
	CodeInvalidArgs      = "invalid_args"
	CodeInvalidContent   = "invalid_content"
	CodeLanguageMismatch = "language_mismatch"
)

// ValidationError is a rejection with a machine-readable code.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsValidation extracts a *ValidationError from err, or nil.
func AsValidation(err error) *ValidationError {
	if err == nil {
		return nil
	}
	if ve, ok := err.(*ValidationError); ok {
		return ve
	}
	return nil
}

// Canonical language names and their aliases. Extensions map back to the
// canonical name so a requested language can be checked against a path.
var (
	languageAliases = map[string]string{
		"python":     "python",
		"python3":    "python",
		"py":         "python",
		"bash":       "bash",
		"sh":         "bash",
		"shell":      "bash",
		"node":       "node",
		"nodejs":     "node",
		"javascript": "node",
		"js":         "node",
	}

	extensionLanguages = map[string]string{
		".py": "python",
		".sh": "bash",
		".js": "node",
	}

	languageExtensions = map[string]string{
		"python": ".py",
		"bash":   ".sh",
		"node":   ".js",
	}
)

// CanonicalLanguage resolves a language name or alias to its canonical form.
// The second return is false for unknown languages.
func CanonicalLanguage(name string) (string, bool) {
	canonical, ok := languageAliases[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

// LanguageForExtension returns the canonical language for a file extension
// (with leading dot), or "" when the extension is not recognized.
func LanguageForExtension(ext string) string {
	return extensionLanguages[strings.ToLower(ext)]
}

// ExtensionForLanguage returns the file extension for a canonical language.
func ExtensionForLanguage(language string) string {
	return languageExtensions[language]
}

// LanguageForPath returns the canonical language implied by a path's
// extension, or "" when unrecognized.
func LanguageForPath(path string) string {
	return LanguageForExtension(filepath.Ext(path))
}
