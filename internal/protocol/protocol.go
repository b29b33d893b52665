// Package protocol encodes dashboard commands and decodes server replies.
// Every message is one UTF-8 text line.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	CommandPing  = "PING"
	CommandData  = "DATA"
	CommandEvent = "EVENT"

	ReplyPong = "PONG"

	queryPrefix = "QUERY:"
	getPrefix   = "GET:"
)

// QueryKind is the single-letter type code of a QUERY command.
type QueryKind string

const (
	QueryR QueryKind = "R"
	QueryD QueryKind = "D"
	QueryB QueryKind = "B"
)

var ErrInvalidArgument = errors.New("invalid command argument")

func ParseQueryKind(raw string) (QueryKind, error) {
	switch kind := QueryKind(strings.ToUpper(strings.TrimSpace(raw))); kind {
	case QueryR, QueryD, QueryB:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: unknown query type %q", ErrInvalidArgument, raw)
	}
}

// EncodeQuery builds QUERY:<T><index>.
func EncodeQuery(kind QueryKind, index int) (string, error) {
	kind, err := ParseQueryKind(string(kind))
	if err != nil {
		return "", err
	}
	if index < 0 {
		return "", fmt.Errorf("%w: negative index %d", ErrInvalidArgument, index)
	}

	return queryPrefix + string(kind) + strconv.Itoa(index), nil
}

// EncodeGet builds GET:<i,j,...>.
func EncodeGet(indices []int) (string, error) {
	if len(indices) == 0 {
		return "", fmt.Errorf("%w: empty index list", ErrInvalidArgument)
	}

	parts := make([]string, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 {
			return "", fmt.Errorf("%w: negative index %d", ErrInvalidArgument, idx)
		}
		parts = append(parts, strconv.Itoa(idx))
	}

	return getPrefix + strings.Join(parts, ","), nil
}

// ParseIndexList parses a comma-separated index list such as "1,2,3".
func ParseIndexList(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty index list", ErrInvalidArgument)
	}

	fields := strings.Split(raw, ",")
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("%w: bad index %q", ErrInvalidArgument, f)
		}
		out = append(out, v)
	}

	return out, nil
}

// IsPong reports whether a heartbeat reply matches the expected token.
func IsPong(line string) bool {
	return line == ReplyPong
}
