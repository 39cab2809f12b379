// Package corpus loads document sets from TOML files.
//
// A corpus names the collection it belongs in and lists documents with
// flat string metadata:
//
//	collection = "advanced_docs"
//
//	[[documents]]
//	id = "doc1"
//	text = "The latest advancements in quantum computing are remarkable."
//	[documents.metadata]
//	topic = "quantum"
//
// The corpora used by the demos are embedded in the binary; see Basic and
// Advanced.
package corpus

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed data/*.toml
var builtin embed.FS

var (
	// ErrInvalidTOML indicates a file that could not be parsed.
	ErrInvalidTOML = errors.New("invalid corpus TOML")

	// ErrInvalidCorpus indicates a parsed corpus that fails validation.
	ErrInvalidCorpus = errors.New("invalid corpus")

	// ErrUnknownBuiltin indicates a builtin name other than basic or advanced.
	ErrUnknownBuiltin = errors.New("unknown builtin corpus")
)

// Document is one entry of a corpus.
type Document struct {
	ID       string            `toml:"id"`
	Text     string            `toml:"text"`
	Metadata map[string]string `toml:"metadata"`
}

// Corpus is a named set of documents.
type Corpus struct {
	Collection string     `toml:"collection"`
	Documents  []Document `toml:"documents"`
}

// Load decodes and validates a corpus. Unknown keys are rejected so that a
// typo in a metadata table name does not silently drop data.
func Load(r io.Reader) (*Corpus, error) {
	var c Corpus
	md, err := toml.NewDecoder(r).Decode(&c)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTOML, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys: %s", ErrInvalidTOML, strings.Join(keys, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile loads a corpus from path.
func LoadFile(path string) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus: %w", err)
	}
	defer f.Close()

	c, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Basic returns the three-document corpus of the basic demo.
func Basic() *Corpus { return mustBuiltin("basic") }

// Advanced returns the five-document topic/category corpus of the advanced demo.
func Advanced() *Corpus { return mustBuiltin("advanced") }

// Builtin returns an embedded corpus by name.
func Builtin(name string) (*Corpus, error) {
	f, err := builtin.Open("data/" + name + ".toml")
	if err != nil {
		return nil, fmt.Errorf("%w: %q (available: basic, advanced)", ErrUnknownBuiltin, name)
	}
	defer f.Close()
	return Load(f)
}

func mustBuiltin(name string) *Corpus {
	c, err := Builtin(name)
	if err != nil {
		panic(err)
	}
	return c
}

// Validate checks the collection name is set and every document has a
// unique, non-empty id and non-empty text.
func (c *Corpus) Validate() error {
	if strings.TrimSpace(c.Collection) == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidCorpus)
	}
	if len(c.Documents) == 0 {
		return fmt.Errorf("%w: no documents", ErrInvalidCorpus)
	}

	seen := make(map[string]int, len(c.Documents))
	for i, d := range c.Documents {
		if d.ID == "" {
			return fmt.Errorf("%w: document %d has no id", ErrInvalidCorpus, i)
		}
		if strings.TrimSpace(d.Text) == "" {
			return fmt.Errorf("%w: document %q has no text", ErrInvalidCorpus, d.ID)
		}
		if first, dup := seen[d.ID]; dup {
			return fmt.Errorf("%w: id %q used by documents %d and %d", ErrInvalidCorpus, d.ID, first, i)
		}
		seen[d.ID] = i
	}
	return nil
}

// Columns returns the corpus as the parallel lists taken by
// vectorstore.Collection.Add. Missing metadata becomes an empty map.
func (c *Corpus) Columns() (ids, texts []string, metadatas []map[string]string) {
	ids = make([]string, len(c.Documents))
	texts = make([]string, len(c.Documents))
	metadatas = make([]map[string]string, len(c.Documents))
	for i, d := range c.Documents {
		ids[i] = d.ID
		texts[i] = d.Text
		metadatas[i] = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			metadatas[i][k] = v
		}
	}
	return ids, texts, metadatas
}
