package docstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tagvault/tagvault/internal/db"
	"github.com/tagvault/tagvault/internal/domain"
)

// publicOwnerTag stands in for the empty owner: RediSearch cannot index an
// empty TAG value, and the public partition must stay queryable.
const publicOwnerTag = "-"

// secretDoc is the JSON shape of one stored secret.
type secretDoc struct {
	Owner       string   `json:"owner"`
	Key         string   `json:"key"`
	Secret      string   `json:"secret"`
	DerivedKeys []string `json:"derived_keys"`
	StemmedKeys []string `json:"stemmed_keys"`
	InTS        int64    `json:"in_ts"` // unix microseconds
}

func (d *secretDoc) createdAt() time.Time {
	return time.UnixMicro(d.InTS).UTC()
}

func buildDoc(s *domain.Secret) *secretDoc {
	return &secretDoc{
		Owner:       ownerTag(s.Owner()),
		Key:         s.Key(),
		Secret:      s.Payload(),
		DerivedKeys: emptyNotNil(s.DerivedKeys()),
		StemmedKeys: emptyNotNil(s.StemmedKeys()),
		InTS:        s.CreatedAt().UTC().UnixMicro(),
	}
}

// parseEntry decodes the "$" return field of a search hit.
func parseEntry(entry db.SearchEntry) (*secretDoc, error) {
	raw := entry.Fields["$"]
	if raw == "" {
		return nil, fmt.Errorf("entry %s has no document body", entry.Key)
	}
	return parseJSON([]byte(raw))
}

// parseJSON decodes a stored document. JSON.GET with a path returns a
// one-element array; a bare object is accepted too.
func parseJSON(raw []byte) (*secretDoc, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var docs []secretDoc
		if err := json.Unmarshal(raw, &docs); err != nil {
			return nil, fmt.Errorf("unmarshal document array: %w", err)
		}
		if len(docs) == 0 {
			return nil, fmt.Errorf("empty document array")
		}
		return &docs[0], nil
	}
	var doc secretDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return &doc, nil
}

// ownerTag maps the empty owner to its index sentinel.
func ownerTag(owner string) string {
	if owner == "" {
		return publicOwnerTag
	}
	return owner
}

func emptyNotNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// tagEscaper escapes RediSearch TAG query syntax characters.
var tagEscaper = strings.NewReplacer(
	",", "\\,", ".", "\\.", "<", "\\<", ">", "\\>", "{", "\\{", "}", "\\}",
	"[", "\\[", "]", "\\]", "\"", "\\\"", "'", "\\'", ":", "\\:", ";", "\\;",
	"!", "\\!", "@", "\\@", "#", "\\#", "$", "\\$", "%", "\\%", "^", "\\^",
	"&", "\\&", "*", "\\*", "(", "\\(", ")", "\\)", "-", "\\-", "+", "\\+",
	"=", "\\=", "~", "\\~", "|", "\\|", " ", "\\ ", "?", "\\?", "/", "\\/",
)

func escapeTag(v string) string {
	return tagEscaper.Replace(v)
}
