package vm

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Document interchange
// ---------------------------------------------------------------------------
//
// Values convert to and from a plain document tree: nil, bool, numbers,
// string, []any, and string-keyed maps. This is the shape yaml.v3 produces
// when decoding into any, and the shape node literals carry.

// FromDocument converts a document tree into a Value. List and mapping
// elements convert recursively; each element is wrapped in a fresh
// Reference. A mapping with a non-string key fails with a DocumentError.
func FromDocument(doc any) (Value, error) {
	switch d := doc.(type) {
	case nil:
		return None(), nil
	case bool:
		return Bool(d), nil
	case int:
		return Number(float64(d)), nil
	case int32:
		return Number(float64(d)), nil
	case int64:
		return Number(float64(d)), nil
	case uint:
		return Number(float64(d)), nil
	case uint32:
		return Number(float64(d)), nil
	case uint64:
		return Number(float64(d)), nil
	case float32:
		return Number(float64(d)), nil
	case float64:
		return Number(d), nil
	case string:
		return String(d), nil
	case []any:
		items := make([]Reference, len(d))
		for i, elem := range d {
			v, err := FromDocument(elem)
			if err != nil {
				return None(), err
			}
			items[i] = NewReference(v)
		}
		return List(items...), nil
	case map[string]any:
		fields := make(map[string]Reference, len(d))
		for k, elem := range d {
			v, err := FromDocument(elem)
			if err != nil {
				return None(), err
			}
			fields[k] = NewReference(v)
		}
		return Object(fields), nil
	case map[any]any:
		fields := make(map[string]Reference, len(d))
		for k, elem := range d {
			key, ok := k.(string)
			if !ok {
				return None(), &DocumentError{
					Reason: fmt.Sprintf("mapping key %v (%T) is not a string", k, k),
				}
			}
			v, err := FromDocument(elem)
			if err != nil {
				return None(), err
			}
			fields[key] = NewReference(v)
		}
		return Object(fields), nil
	default:
		return None(), &DocumentError{
			Reason: fmt.Sprintf("unsupported document node %v (%T)", d, d),
		}
	}
}

// ToDocument converts a Value back into a document tree. Lists become []any
// and objects become map[string]any; element references are read at the
// moment of conversion.
func ToDocument(v Value) any {
	switch v.Kind() {
	case KindBool:
		b, _ := v.AsBool()
		return b
	case KindNumber:
		n, _ := v.AsNumber()
		return n
	case KindString:
		s, _ := v.AsString()
		return s
	case KindList:
		list, _ := v.AsList()
		doc := make([]any, len(list))
		for i, r := range list {
			doc[i] = ToDocument(r.Value())
		}
		return doc
	case KindObject:
		object, _ := v.AsObject()
		doc := make(map[string]any, len(object))
		for k, r := range object {
			doc[k] = ToDocument(r.Value())
		}
		return doc
	default:
		return nil
	}
}

// FromYAML decodes one YAML document into a Value.
func FromYAML(data []byte) (Value, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return None(), fmt.Errorf("vm: decode yaml document: %w", err)
	}
	return FromDocument(doc)
}

// ToYAML encodes a Value as a YAML document.
func ToYAML(v Value) ([]byte, error) {
	data, err := yaml.Marshal(ToDocument(v))
	if err != nil {
		return nil, fmt.Errorf("vm: encode yaml document: %w", err)
	}
	return data, nil
}
