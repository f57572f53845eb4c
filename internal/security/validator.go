package security

import (
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
)

// ValidatorOptions bound what the validator accepts. Zero values fall back
// to the defaults below.
type ValidatorOptions struct {
	// MaxComponentBytes caps a single path component.
	MaxComponentBytes int
	// MaxContentBytes caps file content submitted for execution.
	MaxContentBytes int
	// AllowedFlags is the closed set of dash-prefixed argument tokens
	// accepted by ValidateArgs.
	AllowedFlags []string
}

const (
	defaultMaxComponentBytes = 255
	defaultMaxContentBytes   = 102400
)

// defaultAllowedFlags covers the short and long options the runner scripts
// legitimately take. Anything else dash-prefixed is rejected.
var defaultAllowedFlags = []string{
	"-v", "-q", "-h", "-n", "-l", "-a", "-f", "-r",
	"--help", "--version", "--verbose", "--quiet",
}

// Validator enforces path, argument, and content rules before anything
// reaches the sandbox.
type Validator struct {
	maxComponent int
	maxContent   int
	allowedFlags map[string]bool
}

// NewValidator builds a Validator from options.
func NewValidator(opts ValidatorOptions) *Validator {
	v := &Validator{
		maxComponent: opts.MaxComponentBytes,
		maxContent:   opts.MaxContentBytes,
		allowedFlags: make(map[string]bool),
	}
	if v.maxComponent <= 0 {
		v.maxComponent = defaultMaxComponentBytes
	}
	if v.maxContent <= 0 {
		v.maxContent = defaultMaxContentBytes
	}
	flags := opts.AllowedFlags
	if len(flags) == 0 {
		flags = defaultAllowedFlags
	}
	for _, f := range flags {
		v.allowedFlags[f] = true
	}
	return v
}

// ValidatePath rejects empty paths, NUL bytes, parent-directory traversal,
// and oversized path components.
func (v *Validator) ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return &ValidationError{Code: CodeInvalidPath, Message: "path is empty"}
	}
	if strings.ContainsRune(path, 0) {
		return &ValidationError{Code: CodeInvalidPath, Message: "path contains NUL byte"}
	}
	for _, component := range strings.Split(path, "/") {
		if component == ".." {
			return &ValidationError{Code: CodeInvalidPath, Message: "path traverses parent directories"}
		}
		if len(component) > v.maxComponent {
			return &ValidationError{
				Code:    CodePathTooLong,
				Message: fmt.Sprintf("path component exceeds %d bytes", v.maxComponent),
			}
		}
	}
	return nil
}

// ValidateArgs rejects shell metacharacters and dash-prefixed tokens outside
// the allow-list. Plain positional arguments pass through.
func (v *Validator) ValidateArgs(args string) error {
	if strings.TrimSpace(args) == "" {
		return nil
	}
	if strings.ContainsAny(args, ";|&`") || strings.Contains(args, "$(") {
		return &ValidationError{Code: CodeInvalidArgs, Message: "args contain shell metacharacters"}
	}
	tokens, err := shellwords.Parse(args)
	if err != nil {
		return &ValidationError{Code: CodeInvalidArgs, Message: "args are not parseable"}
	}
	for _, tok := range tokens {
		if strings.HasPrefix(tok, "-") && !v.allowedFlags[tok] {
			return &ValidationError{
				Code:    CodeInvalidArgs,
				Message: fmt.Sprintf("flag %q is not permitted", tok),
			}
		}
	}
	return nil
}

// ValidateContent rejects oversized content and content whose bracket
// structure cannot be valid in the given language.
func (v *Validator) ValidateContent(content, language string) error {
	if len(content) > v.maxContent {
		return &ValidationError{
			Code:    CodeInvalidContent,
			Message: fmt.Sprintf("content exceeds %d bytes", v.maxContent),
		}
	}
	if err := scanBrackets(content, language); err != nil {
		return &ValidationError{Code: CodeInvalidContent, Message: err.Error()}
	}
	return nil
}

// ValidateLanguageExtension checks that a path's extension matches the
// requested language. The language must already be canonical.
func (v *Validator) ValidateLanguageExtension(path, language string) error {
	canonical, ok := CanonicalLanguage(language)
	if !ok {
		canonical = language
	}
	if LanguageForPath(path) != canonical {
		return &ValidationError{
			Code:    CodeLanguageMismatch,
			Message: fmt.Sprintf("path %q does not match language %q", path, canonical),
		}
	}
	return nil
}

// scanBrackets walks content tracking bracket nesting outside string
// literals and comments. It only reports structural impossibilities —
// a closer with no opener, a mismatched closer, or opens left at EOF —
// so it cannot reject code that any of the supported languages would run.
func scanBrackets(content, language string) error {
	lineComment := "#"
	if language == "node" {
		lineComment = "//"
	}

	var stack []rune
	var inString bool
	var quote rune
	var escaped bool

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		runes := []rune(line)
		for i := 0; i < len(runes); i++ {
			ch := runes[i]
			if inString {
				if escaped {
					escaped = false
					continue
				}
				switch ch {
				case '\\':
					escaped = true
				case quote:
					inString = false
				}
				continue
			}
			if ch == '\'' || ch == '"' {
				inString = true
				quote = ch
				continue
			}
			if strings.HasPrefix(string(runes[i:]), lineComment) {
				break
			}
			switch ch {
			case '(', '[', '{':
				stack = append(stack, ch)
			case ')', ']', '}':
				if len(stack) == 0 {
					return fmt.Errorf("unmatched %q", ch)
				}
				open := stack[len(stack)-1]
				if (ch == ')' && open != '(') || (ch == ']' && open != '[') || (ch == '}' && open != '{') {
					return fmt.Errorf("mismatched %q", ch)
				}
				stack = stack[:len(stack)-1]
			}
		}
		// String state does not reset across lines: triple-quoted and
		// template literals legitimately span them.
		escaped = false
	}
	if !inString && len(stack) > 0 {
		return fmt.Errorf("unclosed %q", stack[len(stack)-1])
	}
	return nil
}
