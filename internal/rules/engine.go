package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

const defaultPassLimit = 30

// substitution rewrites one transcript line, reporting whether it changed.
type substitution interface {
	Apply(input string) (output string, changed bool)
}

// LineParser turns one rules-file line into a substitution.
type LineParser interface {
	CanParse(line string) bool
	Parse(line string) (substitution, error)
}

// Engine applies deterministic substitutions to transcript text. It is safe
// for concurrent use once built.
type Engine struct {
	subs      []substitution
	passLimit int
	source    string
}

// Load compiles the rules file at path with the built-in parsers. An empty
// path or a missing file yields an engine without rules.
func Load(path string, passLimit int) (*Engine, error) {
	return LoadWithParsers(path, passLimit, builtinParsers())
}

// LoadWithParsers is Load with extra line formats.
func LoadWithParsers(path string, passLimit int, parsers []LineParser) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return Compile("", passLimit, parsers)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Compile("", passLimit, parsers)
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	engine, err := Compile(string(contents), passLimit, parsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}
	engine.source = path
	return engine, nil
}

// Compile builds an engine from rules text. Nil parsers select the built-in ones.
func Compile(contents string, passLimit int, parsers []LineParser) (*Engine, error) {
	if passLimit <= 0 {
		passLimit = defaultPassLimit
	}
	if len(parsers) == 0 {
		parsers = builtinParsers()
	}

	subs, err := compileLines(contents, parsers)
	if err != nil {
		return nil, err
	}
	return &Engine{subs: subs, passLimit: passLimit}, nil
}

// Len returns the number of compiled rules.
func (e *Engine) Len() int {
	return len(e.subs)
}

// Source returns the file the rules came from, empty when none was read.
func (e *Engine) Source() string {
	return e.source
}

// Apply runs every rule over text in file order, repeating until a pass
// changes nothing or the pass limit is reached.
func (e *Engine) Apply(text string) (string, error) {
	if len(e.subs) == 0 || text == "" {
		return text, nil
	}

	result := text
	for pass := 0; pass < e.passLimit; pass++ {
		dirty := false
		for _, sub := range e.subs {
			if next, changed := sub.Apply(result); changed {
				result = next
				dirty = true
			}
		}
		if !dirty {
			break
		}
	}
	return result, nil
}

func compileLines(contents string, parsers []LineParser) ([]substitution, error) {
	lines := strings.Split(contents, "\n")
	subs := make([]substitution, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parser := pickParser(parsers, line)
		if parser == nil {
			return nil, fmt.Errorf("line %d: unsupported rule format", index+1)
		}
		sub, err := parser.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func pickParser(parsers []LineParser, line string) LineParser {
	for _, parser := range parsers {
		if parser.CanParse(line) {
			return parser
		}
	}
	return nil
}

func builtinParsers() []LineParser {
	return []LineParser{sedParser{}, arrowParser{}}
}

// arrowParser handles "spoken form => written form" lines.
type arrowParser struct{}

func (arrowParser) CanParse(line string) bool {
	return strings.Contains(line, "=>")
}

func (arrowParser) Parse(line string) (substitution, error) {
	return compileArrow(line)
}

// sedParser handles s/pattern/replacement/flags lines.
type sedParser struct{}

func (sedParser) CanParse(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordOrSpace(line[1])
}

func (sedParser) Parse(line string) (substitution, error) {
	return compileSed(line)
}

// phraseSubstitution replaces a phrase case-insensitively wherever it is
// not part of a longer word.
type phraseSubstitution struct {
	re          *regexp.Regexp
	replacement string
}

func compileArrow(line string) (substitution, error) {
	from, to, ok := strings.Cut(line, "=>")
	if !ok {
		return nil, errors.New("invalid phrase rule")
	}
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("phrase rule source cannot be empty")
	}

	pattern := regexp.QuoteMeta(from)
	if isWordByte(from[0]) {
		pattern = `\b` + pattern
	}
	if isWordByte(from[len(from)-1]) {
		pattern += `\b`
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid phrase source: %w", err)
	}
	return phraseSubstitution{re: re, replacement: to}, nil
}

func (s phraseSubstitution) Apply(input string) (string, bool) {
	output := s.re.ReplaceAllLiteralString(input, s.replacement)
	return output, output != input
}

type patternSubstitution struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func compileSed(line string) (substitution, error) {
	if len(line) < 2 {
		return nil, errors.New("invalid regex rule")
	}
	delim := line[1]
	if isWordOrSpace(delim) {
		return nil, errors.New("regex delimiter must be non-alphanumeric")
	}

	pattern, pos, err := readDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := readDelimited(line, pos, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	// Case-insensitive unless the pattern says otherwise; transcripts have
	// unreliable capitalization.
	modifiers := "i"
	global := false
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i', ' ':
		case 'g':
			global = true
		case 'm', 's':
			if !strings.ContainsRune(modifiers, flag) {
				modifiers += string(flag)
			}
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + modifiers + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return patternSubstitution{re: re, replacement: replacement, global: global}, nil
}

func (s patternSubstitution) Apply(input string) (string, bool) {
	if s.global {
		output := s.re.ReplaceAllString(input, s.replacement)
		return output, output != input
	}

	loc := s.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	expanded := s.re.ExpandString(nil, s.replacement, input, loc)
	output := input[:loc[0]] + string(expanded) + input[loc[1]:]
	return output, output != input
}

func readDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var builder strings.Builder
	escaped := false
	for index := start; index < len(line); index++ {
		char := line[index]
		switch {
		case escaped:
			escaped = false
			if char != delim {
				builder.WriteByte('\\')
			}
			builder.WriteByte(char)
		case char == '\\':
			escaped = true
		case char == delim:
			return builder.String(), index + 1, nil
		default:
			builder.WriteByte(char)
		}
	}
	return "", 0, errors.New("unterminated expression")
}

func isWordByte(char byte) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '_'
}

func isWordOrSpace(char byte) bool {
	return isWordByte(char) || char == ' ' || char == '\t'
}
