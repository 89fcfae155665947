package dasherr

import (
	"errors"
	"strings"
)

var (
	ErrTooLong           = errors.New("too long")
	ErrInvalidCharacters = errors.New("invalid characters")
	ErrDuplicate         = errors.New("duplicate")

	ErrPersistence      = errors.New("persistence failed")
	ErrTransport        = errors.New("transport failed")
	ErrParse            = errors.New("malformed payload")
	ErrCommitInProgress = errors.New("commit already in progress")
)

const (
	CategoryTooLong           = "too long"
	CategoryInvalidCharacters = "invalid characters"
	CategoryDuplicate         = "duplicate"
	CategoryPersistence       = "persistence"
	CategoryTransport         = "transport"
	CategoryParse             = "parse"
	CategoryBusy              = "busy"
)

// Classify maps a reason string reported by the controller onto one of the
// validation sentinels. Unknown reasons return nil.
func Classify(reason string) error {
	normalized := strings.ToLower(strings.TrimSpace(reason))
	switch {
	case normalized == "":
		return nil
	case strings.Contains(normalized, "too long"):
		return ErrTooLong
	case strings.Contains(normalized, "invalid characters"):
		return ErrInvalidCharacters
	case strings.Contains(normalized, "already in use"), strings.Contains(normalized, "duplicate"):
		return ErrDuplicate
	default:
		return nil
	}
}

// Category reports the most specific category of err. Validation reasons win
// over the persistence wrapper so a server-side duplicate reads as a duplicate.
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTooLong):
		return CategoryTooLong
	case errors.Is(err, ErrInvalidCharacters):
		return CategoryInvalidCharacters
	case errors.Is(err, ErrDuplicate):
		return CategoryDuplicate
	case errors.Is(err, ErrCommitInProgress):
		return CategoryBusy
	case errors.Is(err, ErrTransport):
		return CategoryTransport
	case errors.Is(err, ErrParse):
		return CategoryParse
	default:
		return CategoryPersistence
	}
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrTooLong) || errors.Is(err, ErrInvalidCharacters) || errors.Is(err, ErrDuplicate)
}

// Describe renders the transient status text shown after a failed operation.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	switch Category(err) {
	case CategoryTooLong:
		return "Value is too long (max 32 characters)."
	case CategoryInvalidCharacters:
		return "Value contains invalid characters."
	case CategoryDuplicate:
		return "Value is already in use by another line."
	case CategoryBusy:
		return "A save is already in progress."
	case CategoryTransport:
		return "Could not reach the controller."
	case CategoryParse:
		return "Received malformed data from the controller."
	default:
		return "Could not save: " + err.Error()
	}
}
