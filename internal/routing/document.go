package routing

import (
	"encoding/json"
	"fmt"
)

// DocumentVersion is the schema version written by MarshalDocument.
const DocumentVersion = 1

// Document is the persisted form of one account's routing table.
type Document struct {
	SchemaVersion int             `json:"schema_version"`
	AccountKey    string          `json:"account_key"`
	Revision      int64           `json:"revision"`
	Entries       []DocumentEntry `json:"entries"`
}

// DocumentEntry is one serialized routing entry.
type DocumentEntry struct {
	Source         Connector `json:"source"`
	SourceEndpoint string    `json:"source_endpoint"`
	Target         Connector `json:"target"`
	TargetEndpoint string    `json:"target_endpoint"`
}

// NewDocument snapshots a table into a document.
func NewDocument(accountKey string, revision int64, t *Table) Document {
	entries := t.Entries()
	doc := Document{
		SchemaVersion: DocumentVersion,
		AccountKey:    accountKey,
		Revision:      revision,
		Entries:       make([]DocumentEntry, 0, len(entries)),
	}
	for _, e := range entries {
		doc.Entries = append(doc.Entries, DocumentEntry(e))
	}
	return doc
}

// Table rebuilds a routing table from the document. The table is not
// validated; callers decide whether a dangling entry is fatal.
func (d Document) Table() (*Table, error) {
	if d.SchemaVersion != DocumentVersion {
		return nil, fmt.Errorf("unsupported routing document version: %d", d.SchemaVersion)
	}
	t := NewTable()
	for i, e := range d.Entries {
		if err := t.AddEntry(e.Source, e.SourceEndpoint, e.Target, e.TargetEndpoint); err != nil {
			return nil, fmt.Errorf("entries[%d]: %w", i, err)
		}
	}
	return t, nil
}

// MarshalDocument serializes a table as a versioned JSON document.
func MarshalDocument(accountKey string, revision int64, t *Table) ([]byte, error) {
	return json.Marshal(NewDocument(accountKey, revision, t))
}

// UnmarshalDocument parses a JSON routing document.
func UnmarshalDocument(b []byte) (Document, *Table, error) {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return Document{}, nil, fmt.Errorf("decode routing document: %w", err)
	}
	t, err := doc.Table()
	if err != nil {
		return Document{}, nil, err
	}
	return doc, t, nil
}
