package vectorstore

import (
	"fmt"
	"maps"
	"regexp"
	"sort"
	"strings"
)

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, digits, underscore and hyphen, 3-63 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_-]{3,63}$`)

// ValidateCollectionName validates a collection name against security rules.
// Rejects: uppercase, path separators, dots, spaces, too short or long.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_-]{3,63}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// validateAdd checks an add batch and returns per-document metadata with
// nil entries replaced by empty maps.
func validateAdd(ids, texts []string, metadatas []map[string]string) ([]map[string]string, error) {
	if len(ids) == 0 {
		return nil, ErrEmptyDocuments
	}
	if len(texts) != len(ids) {
		return nil, fmt.Errorf("%w: %d ids, %d texts", ErrLengthMismatch, len(ids), len(texts))
	}
	if metadatas != nil && len(metadatas) != len(ids) {
		return nil, fmt.Errorf("%w: %d ids, %d metadatas", ErrLengthMismatch, len(ids), len(metadatas))
	}
	if err := checkIDs(ids); err != nil {
		return nil, err
	}
	return normalizeMetadatas(metadatas, len(ids)), nil
}

// validateUpdate checks an update batch and returns copied metadata.
func validateUpdate(ids []string, metadatas []map[string]string) ([]map[string]string, error) {
	if len(ids) == 0 {
		return nil, ErrEmptyDocuments
	}
	if len(metadatas) != len(ids) {
		return nil, fmt.Errorf("%w: %d ids, %d metadatas", ErrLengthMismatch, len(ids), len(metadatas))
	}
	if err := checkIDs(ids); err != nil {
		return nil, err
	}
	return normalizeMetadatas(metadatas, len(ids)), nil
}

// validateQuery checks a query request.
func validateQuery(req QueryRequest) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: at least one query text is required", ErrInvalidQuery)
	}
	if req.NResults <= 0 {
		return fmt.Errorf("%w: n_results must be positive, got %d", ErrInvalidQuery, req.NResults)
	}
	for k := range req.Where {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: where keys cannot be empty", ErrInvalidQuery)
		}
	}
	return nil
}

// checkIDs rejects empty and repeated ids within one batch.
func checkIDs(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: at index %d", ErrEmptyID, i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %q appears more than once in the batch", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func normalizeMetadatas(metadatas []map[string]string, n int) []map[string]string {
	out := make([]map[string]string, n)
	for i := range out {
		if metadatas != nil && metadatas[i] != nil {
			out[i] = maps.Clone(metadatas[i])
		} else {
			out[i] = map[string]string{}
		}
	}
	return out
}

// capResults limits n to the number of stored documents.
func capResults(n, count int) int {
	if n > count {
		return count
	}
	return n
}

// sortedKeys returns map keys in lexical order for stable filter construction.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sortMatches orders matches by ascending distance, ties by id.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})
}

func quoteAll(ids []string) string {
	q := make([]string, len(ids))
	for i, id := range ids {
		q[i] = fmt.Sprintf("%q", id)
	}
	return strings.Join(q, ", ")
}
