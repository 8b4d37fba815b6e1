package grammar

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var ErrSyntax = errors.New("grammar syntax error")

// Parse reads a BNF grammar. Each rule has the form
//
//	<name> ::= alternative | alternative
//
// and may continue over following lines. Non-terminals are written <name>
// with no spaces inside the brackets, literals are quoted ("x" or 'x') or bare
// words. A '<' that does not open such a name is literal text, so
// <a> < <b> and <a> <= <b> compare two non-terminals. The first rule is the
// start rule and '#' starts a comment outside quotes.
func Parse(text string) (*Grammar, error) {
	var (
		defs    []RuleDef
		current *RuleDef
		pending []string
		lineNo  int
	)

	flush := func() error {
		if current == nil {
			return nil
		}
		alternatives, err := parseAlternatives(strings.Join(pending, " "))
		if err != nil {
			return fmt.Errorf("%w: rule <%s>: %v", ErrSyntax, current.Name, err)
		}
		current.Alternatives = alternatives
		defs = append(defs, *current)
		current = nil
		pending = nil
		return nil
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(stripComment(scanner.Text()))
		if line == "" {
			continue
		}
		if name, rest, ok := splitRuleHead(line); ok {
			if err := flush(); err != nil {
				return nil, err
			}
			current = &RuleDef{Name: name}
			pending = []string{rest}
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("%w: line %d: expected <rule> ::=", ErrSyntax, lineNo)
		}
		pending = append(pending, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return New("", defs...)
}

func splitRuleHead(line string) (string, string, bool) {
	if !strings.HasPrefix(line, "<") {
		return "", "", false
	}
	end := strings.Index(line, ">")
	if end < 0 {
		return "", "", false
	}
	rest := strings.TrimSpace(line[end+1:])
	if !strings.HasPrefix(rest, "::=") {
		return "", "", false
	}
	name := strings.TrimSpace(line[1:end])
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(rest[3:]), true
}

func stripComment(line string) string {
	var quote rune
	escaped := false
	for i, r := range line {
		switch {
		case escaped:
			escaped = false
		case quote != 0 && r == '\\':
			escaped = true
		case quote != 0 && r == quote:
			quote = 0
		case quote == 0 && (r == '"' || r == '\''):
			quote = r
		case quote == 0 && r == '#':
			return line[:i]
		}
	}
	return line
}

func parseAlternatives(body string) ([][]SymbolDef, error) {
	var (
		alternatives [][]SymbolDef
		current      []SymbolDef
	)
	runes := []rune(body)
	closeAlternative := func() error {
		if len(current) == 0 {
			return errors.New("empty alternative")
		}
		alternatives = append(alternatives, current)
		current = nil
		return nil
	}

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '|':
			if err := closeAlternative(); err != nil {
				return nil, err
			}
			i++
		case r == '<' && nonTerminalEnd(runes, i) > 0:
			end := nonTerminalEnd(runes, i)
			current = append(current, NT(string(runes[i+1:end])))
			i = end + 1
		case r == '"' || r == '\'':
			literal, next, err := readQuoted(runes, i)
			if err != nil {
				return nil, err
			}
			current = append(current, T(literal))
			i = next
		default:
			end := i + 1
			for end < len(runes) && !unicode.IsSpace(runes[end]) && !strings.ContainsRune("|\"'", runes[end]) {
				if runes[end] == '<' && nonTerminalEnd(runes, end) > 0 {
					break
				}
				end++
			}
			current = append(current, T(string(runes[i:end])))
			i = end
		}
	}
	if err := closeAlternative(); err != nil {
		return nil, err
	}
	return alternatives, nil
}

// nonTerminalEnd returns the index of the '>' closing a non-terminal that
// opens at start, or -1 when the '<' there is an ordinary literal character.
func nonTerminalEnd(runes []rune, start int) int {
	for i := start + 1; i < len(runes); i++ {
		switch r := runes[i]; {
		case r == '>':
			if i == start+1 {
				return -1
			}
			return i
		case r == '<' || r == '|' || unicode.IsSpace(r):
			return -1
		}
	}
	return -1
}

func readQuoted(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	var b strings.Builder
	for i := start + 1; i < len(runes); i++ {
		r := runes[i]
		if r == quote {
			return b.String(), i + 1, nil
		}
		if r != '\\' {
			b.WriteRune(r)
			continue
		}
		i++
		if i >= len(runes) {
			break
		}
		switch runes[i] {
		case 'n':
			b.WriteRune('\n')
		case 't':
			b.WriteRune('\t')
		default:
			b.WriteRune(runes[i])
		}
	}
	return "", 0, errors.New("unterminated literal")
}
