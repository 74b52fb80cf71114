package datastore

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	contractx "github.com/MLAN1O/atlas/agent/contract"
)

var ErrNotReadOnly = fmt.Errorf("%w: statement is not a single read-only query", contractx.ErrInvalidArguments)

var forbiddenKeywords = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|upsert|drop|alter|create|truncate|grant|revoke|copy|call|do|execute|vacuum|lock|refresh|set|reset|listen|notify|comment|security)\b`)

var (
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	quoted       = regexp.MustCompile(`'(?:[^']|'')*'`)
)

// GuardReadOnly accepts one SELECT (or WITH ... SELECT) statement and returns it without
// comments or a trailing semicolon. String literals are ignored when scanning for write keywords.
func GuardReadOnly(statement string) (string, error) {
	stmt := blockComment.ReplaceAllString(statement, " ")
	stmt = lineComment.ReplaceAllString(stmt, " ")
	stmt = strings.TrimSpace(stmt)
	stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
	if stmt == "" {
		return "", errors.New("empty sql statement")
	}

	scan := quoted.ReplaceAllString(stmt, "''")
	lower := strings.ToLower(scan)
	if !strings.HasPrefix(lower, "select") && !strings.HasPrefix(lower, "with") {
		return "", ErrNotReadOnly
	}
	if strings.Contains(scan, ";") {
		return "", ErrNotReadOnly
	}
	if m := forbiddenKeywords.FindString(scan); m != "" {
		return "", fmt.Errorf("%w: found %q", ErrNotReadOnly, strings.ToLower(m))
	}
	return stmt, nil
}
