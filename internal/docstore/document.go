package docstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Document is a stored JSON document.
type Document struct {
	Collection string
	ID         string
	Data       json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time

	fields map[string]any
}

// DataTo decodes the document into v and sets its "id" field to the
// document id.
func (d *Document) DataTo(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", d.Collection, d.ID, err)
	}
	idJSON, err := json.Marshal(map[string]string{"id": d.ID})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(idJSON, v); err != nil {
		return fmt.Errorf("failed to set id on %s/%s: %w", d.Collection, d.ID, err)
	}
	return nil
}

// Field returns a decoded top-level field, or nil if absent.
func (d *Document) Field(name string) any {
	if d.fields == nil {
		d.fields = map[string]any{}
		_ = json.Unmarshal(d.Data, &d.fields)
	}
	return d.fields[name]
}

// Fields is a set of top-level field writes. Values are encoded as JSON;
// the sentinels ArrayUnion, ServerTimestamp and DeleteField are applied
// by the store.
type Fields map[string]any

type arrayUnion struct {
	elems []any
}

// ArrayUnion appends elems to an array field, skipping elements that are
// already present. A missing field is treated as an empty array.
func ArrayUnion(elems ...any) any {
	return arrayUnion{elems: elems}
}

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store's clock at write time.
var ServerTimestamp any = serverTimestamp{}

type deleteField struct{}

// DeleteField removes a field in Update.
var DeleteField any = deleteField{}

// toFields converts a struct or map into Fields through its JSON form.
// The "id" key is dropped: ids live in the document key.
func toFields(data any) (Fields, error) {
	if f, ok := data.(Fields); ok {
		out := make(Fields, len(f))
		for k, v := range f {
			out[k] = v
		}
		delete(out, "id")
		return out, nil
	}
	if m, ok := data.(map[string]any); ok {
		return toFields(Fields(m))
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var out Fields
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("document must encode to a JSON object: %w", err)
	}
	delete(out, "id")
	return out, nil
}

// applyFields merges writes into an existing decoded document.
func applyFields(doc map[string]any, writes Fields, now time.Time) error {
	for name, value := range writes {
		if err := checkField(name); err != nil {
			return err
		}
		switch v := value.(type) {
		case deleteField:
			delete(doc, name)
		case serverTimestamp:
			doc[name] = now.UTC().Format(time.RFC3339Nano)
		case arrayUnion:
			existing, _ := doc[name].([]any)
			for _, elem := range v.elems {
				norm, err := normalize(elem)
				if err != nil {
					return fmt.Errorf("field %s: %w", name, err)
				}
				if !containsJSON(existing, norm) {
					existing = append(existing, norm)
				}
			}
			if existing == nil {
				existing = []any{}
			}
			doc[name] = existing
		default:
			norm, err := normalize(v)
			if err != nil {
				return fmt.Errorf("field %s: %w", name, err)
			}
			doc[name] = norm
		}
	}
	return nil
}

// normalize round-trips a value through JSON so stored values compare
// the way they will be read back.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func containsJSON(list []any, v any) bool {
	want, err := json.Marshal(v)
	if err != nil {
		return false
	}
	for _, item := range list {
		got, err := json.Marshal(item)
		if err == nil && string(got) == string(want) {
			return true
		}
	}
	return false
}
