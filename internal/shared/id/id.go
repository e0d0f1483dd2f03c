// Package id provides ULID-based identifiers for values that need to be
// correlated across the host and a running application: submitted units of
// work and anonymous consoles.
//
// Application identity is NOT generated here. An Application's id is the
// opaque numeric id reported by the unit that was spawned (an OS pid for
// separate processes, a sequence number for isolated runtimes).
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SubmissionID identifies one unit of work shipped to an application.
type SubmissionID string

// ConsoleID names a console that was created without an explicit name.
type ConsoleID string

const (
	SubmissionPrefix = "sub"
	ConsolePrefix    = "con"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by monotonic crypto entropy.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewSubmissionID generates a new submission ID
func NewSubmissionID() SubmissionID {
	return SubmissionID(Default().GenerateWithPrefix(SubmissionPrefix))
}

// NewConsoleID generates a new console ID
func NewConsoleID() ConsoleID {
	return ConsoleID(Default().GenerateWithPrefix(ConsolePrefix))
}

func (id SubmissionID) String() string { return string(id) }
func (id ConsoleID) String() string    { return string(id) }

// IsValid reports whether s is a ULID, with or without a known prefix.
func IsValid(s string) bool {
	if i := strings.IndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	_, err := ulid.Parse(s)
	return err == nil
}

// Timestamp extracts the generation time from an id.
func Timestamp(s string) (time.Time, error) {
	if i := strings.IndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
