package server

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/brojonat/voxpay/service/substrate"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxTextLength      = 1000
	maxContactName     = 64
	defaultPageLimit   = 50
	maxPageLimit       = 500
)

// validateText checks a free-form payment utterance.
func validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return errorf("text is required")
	}
	if len(text) > maxTextLength {
		return errorf("text too long: maximum length is %d characters", maxTextLength)
	}
	for _, r := range text {
		if r == 0 || (unicode.IsControl(r) && r != '\n' && r != '\t') {
			return errorf("invalid characters in text: control characters not allowed")
		}
	}
	return nil
}

// validateContactName checks an address book name. Names are single words
// so they can be picked out of an utterance.
func validateContactName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errorf("name is required")
	}
	if len(name) > maxContactName {
		return errorf("name too long: maximum length is %d characters", maxContactName)
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return errorf("invalid name: only letters, digits, '-' and '_' are allowed")
		}
	}
	return nil
}

// validateAddress checks an SS58 recipient address.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}
	if err := substrate.ValidateAddress(address); err != nil {
		return errorf("invalid address: %v", err)
	}
	return nil
}

// parsePagination reads limit and offset query parameters.
func parsePagination(q url.Values) (limit, offset int32, err error) {
	limit = defaultPageLimit
	if v := q.Get("limit"); v != "" {
		n, perr := strconv.Atoi(v)
		if perr != nil || n <= 0 {
			return 0, 0, errorf("invalid limit: must be a positive integer")
		}
		if n > maxPageLimit {
			n = maxPageLimit
		}
		limit = int32(n)
	}
	if v := q.Get("offset"); v != "" {
		n, perr := strconv.Atoi(v)
		if perr != nil || n < 0 || n > math.MaxInt32 {
			return 0, 0, errorf("invalid offset: must be a non-negative integer")
		}
		offset = int32(n)
	}
	return limit, offset, nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
