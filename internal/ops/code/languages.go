package code

import "strings"

// Interpreter and tool commands per canonical language. The lint commands
// are deliberately hermetic: each language's own syntax checker, no
// third-party tooling required. The fix/format tools may be absent on a
// host — in that case their non-zero exit is reported as a result, the
// same as any other tool outcome.
var commandTable = map[string]map[string][]string{
	"python": {
		"run":    {"python3"},
		"test":   {"python3", "-m", "pytest"},
		"lint":   {"python3", "-m", "py_compile"},
		"fix":    {"python3", "-m", "autopep8", "--in-place"},
		"format": {"python3", "-m", "black"},
	},
	"bash": {
		"run":    {"bash"},
		"test":   {"bash"},
		"lint":   {"bash", "-n"},
		"fix":    {"shfmt", "-w"},
		"format": {"shfmt"},
	},
	"node": {
		"run":    {"node"},
		"test":   {"node", "--test"},
		"lint":   {"node", "--check"},
		"fix":    {"prettier", "--write"},
		"format": {"prettier"},
	},
}

// commandFor builds the argv for an action against a target file.
func commandFor(action, language, target string) []string {
	base := commandTable[language][action]
	argv := make([]string, 0, len(base)+1)
	argv = append(argv, base...)
	return append(argv, target)
}

// testMarkers lists the substrings whose presence marks a file as
// containing tests for a language.
var testMarkers = map[string][]string{
	"python": {"def test_", "unittest"},
	"bash":   {"test_"},
	"node":   {"describe(", "test(", "it("},
}

// hasTests reports whether source looks like it contains tests.
func hasTests(source, language string) bool {
	for _, marker := range testMarkers[language] {
		if strings.Contains(source, marker) {
			return true
		}
	}
	return false
}
