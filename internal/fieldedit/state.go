package fieldedit

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dwizi/switchboard/internal/linestate"
)

// MaxLength bounds both editable fields, counted in characters.
const MaxLength = 32

type State int

const (
	StateIdle State = iota
	StateFocused
	StateCommitting
	StateFocusedWithError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFocused:
		return "focused"
	case StateCommitting:
		return "committing"
	case StateFocusedWithError:
		return "focused-with-error"
	default:
		return "unknown"
	}
}

// Key identifies one editable cell.
type Key struct {
	Line  int
	Field linestate.Field
}

type fieldState struct {
	state         State
	lastKnownGood string
	buffer        string
	lastErr       error
}

func (f *fieldState) holdsFocus() bool {
	return f.state == StateFocused || f.state == StateFocusedWithError || f.state == StateCommitting
}

// Sanitize is applied on every keystroke. Phone input keeps digits only;
// both fields are cut at MaxLength characters.
func Sanitize(field linestate.Field, text string) string {
	if field == linestate.FieldPhone {
		text = strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, text)
	} else {
		text = strings.Map(func(r rune) rune {
			if unicode.IsControl(r) {
				return -1
			}
			return r
		}, text)
	}
	if utf8.RuneCountInString(text) <= MaxLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxLength])
}
