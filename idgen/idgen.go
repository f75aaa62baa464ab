// Package idgen mints the ids of lander records.
//
// An id is a kind prefix followed by a UUIDv7, so ids sort by creation time
// and a variant id can never be mistaken for an experiment id. Stores take a
// Generator so tests can inject deterministic ids.
package idgen

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Generator produces the unique part of an id.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 version 7 UUIDs.
func UUIDv7() Generator {
	return func() string { return uuid.Must(uuid.NewV7()).String() }
}

// Sequence returns a Generator of "prefix1", "prefix2", ... for tests. It is
// not safe for concurrent use.
func Sequence(prefix string) Generator {
	n := 0
	return func() string {
		n++
		return prefix + strconv.Itoa(n)
	}
}

// Default is the Generator stores use unless told otherwise.
var Default Generator = UUIDv7()

// New returns a bare id from Default.
func New() string { return Default() }

// Kind is a record type. Its value is the prefix of every id of that kind.
type Kind string

// Record kinds.
const (
	Experiment Kind = "exp_"
	Variant    Kind = "var_"
	Event      Kind = "evt_"
)

// From returns a new id of kind k drawn from gen.
func (k Kind) From(gen Generator) string { return string(k) + gen() }

// Valid reports whether id is a well-formed id of kind k. Cookie, form and
// tool values are checked with it before they reach a lookup.
func (k Kind) Valid(id string) bool {
	rest, ok := strings.CutPrefix(id, string(k))
	if !ok || len(rest) != 36 {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
