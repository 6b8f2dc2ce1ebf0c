package resolvers

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	CommentFileName = "CommentFile"
	commentIDKey    = "id"
)

// ErrInvalidRecord is returned for records a replacer cannot add.
var ErrInvalidRecord = errors.New("invalid record")

// CommentFile keeps a JSON document with an ordered list of records, each
// carrying a unique string "id". Adding a record whose id is already present
// changes nothing, so replays are harmless.
func CommentFile() Resolver {
	return WholeFile(CommentFileName, newCommentFile)
}

type commentDocument struct {
	Elements []map[string]any `json:"elements"`
}

type commentFile struct {
	doc commentDocument
	ids map[string]struct{}
}

func newCommentFile(current []byte) (Replacer, error) {
	c := &commentFile{ids: make(map[string]struct{})}
	if len(current) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(current, &c.doc); err != nil {
		return nil, err
	}
	for _, el := range c.doc.Elements {
		if id, ok := el[commentIDKey].(string); ok {
			c.ids[id] = struct{}{}
		}
	}
	return c, nil
}

func (c *commentFile) Add(record []byte) error {
	var el map[string]any
	if err := json.Unmarshal(record, &el); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	id, ok := el[commentIDKey].(string)
	if !ok || id == "" {
		return fmt.Errorf("%w: record without %q", ErrInvalidRecord, commentIDKey)
	}
	if _, dup := c.ids[id]; dup {
		return nil
	}
	c.ids[id] = struct{}{}
	c.doc.Elements = append(c.doc.Elements, el)
	return nil
}

func (c *commentFile) Data() ([]byte, error) {
	if c.doc.Elements == nil {
		c.doc.Elements = []map[string]any{}
	}
	return json.Marshal(c.doc)
}
