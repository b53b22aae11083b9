package logstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/tagvault/tagvault/internal/domain"
)

// On-disk record framing. A record is six or more lines:
//
//	====<BR <id>>====
//	<owner, empty line when none>
//	<creation timestamp>
//	<absolute key>
//	<space-joined derived keys, then stemmed keys>
//	<payload, one or more lines>
//	====<ER>====
//
// The payload is written verbatim with no escaping: a payload line equal to
// the end marker truncates the record, and a payload line shaped like a
// begin marker drops the record entirely (the scanner treats it as the start
// of the next record and discards the unterminated one). Known format
// limitations, kept for file compatibility.
const (
	beginPrefix = "====<BR "
	beginSuffix = ">===="
	endMarker   = "====<ER>===="

	// timeLayout matches the original log files (UTC, microsecond precision).
	timeLayout = "2006-01-02 15:04:05.000000"
)

// beginMarker formats the begin-marker line for a secret id.
func beginMarker(id string) string {
	return beginPrefix + id + beginSuffix
}

// parseBeginMarker extracts the id from a begin-marker line.
// Returns false when the line is not a begin marker.
func parseBeginMarker(line string) (string, bool) {
	if !strings.HasPrefix(line, beginPrefix) || !strings.HasSuffix(line, beginSuffix) {
		return "", false
	}
	return line[len(beginPrefix) : len(line)-len(beginSuffix)], true
}

// serialize renders a secret as one self-delimiting record.
func serialize(s *domain.Secret) string {
	keys := append(append([]string(nil), s.DerivedKeys()...), s.StemmedKeys()...)
	return strings.Join([]string{
		beginMarker(s.ID()),
		s.Owner(),
		s.CreatedAt().UTC().Format(timeLayout),
		s.Key(),
		strings.Join(keys, " "),
		s.Payload(),
		endMarker,
	}, "\n")
}

// deserialize rebuilds a secret from the lines of one record, begin marker
// through end marker inclusive. The keys line is split in half: the first
// half is original derived tokens, the second half their stems.
func deserialize(lines []string) (domain.Secret, error) {
	if len(lines) < 7 {
		return domain.Secret{}, fmt.Errorf("%w: %d lines", domain.ErrMalformedRecord, len(lines))
	}
	id, ok := parseBeginMarker(lines[0])
	if !ok {
		return domain.Secret{}, fmt.Errorf("%w: bad begin marker %q", domain.ErrMalformedRecord, lines[0])
	}
	if lines[len(lines)-1] != endMarker {
		return domain.Secret{}, fmt.Errorf("%w: missing end marker", domain.ErrMalformedRecord)
	}

	owner := lines[1]
	createdAt, err := time.Parse(timeLayout, lines[2])
	if err != nil {
		return domain.Secret{}, fmt.Errorf("%w: bad timestamp %q", domain.ErrMalformedRecord, lines[2])
	}
	key := lines[3]

	var derived, stemmed []string
	if keys := strings.Fields(lines[4]); len(keys) > 0 {
		mid := len(keys) / 2
		derived, stemmed = keys[:mid], keys[mid:]
	}

	payload := strings.Join(lines[5:len(lines)-1], "\n")

	return domain.Reconstruct(id, owner, key, payload, derived, stemmed, createdAt.UTC()), nil
}
