package rpc

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

type fieldKind int

const (
	kindScalar fieldKind = iota
	kindMessage
	kindRepeated
)

func (k fieldKind) String() string {
	switch k {
	case kindScalar:
		return "scalar"
	case kindMessage:
		return "message"
	case kindRepeated:
		return "repeated"
	default:
		return "unknown"
	}
}

// Discriminated is implemented by messages whose tag field selects which one
// of several value fields is populated.
type Discriminated interface {
	// Discriminator is the wire name of the tag field.
	Discriminator() string
	// Variants maps each known tag to the wire name of its value field.
	Variants() map[string]string
}

var discriminatedType = reflect.TypeOf((*Discriminated)(nil)).Elem()

type fieldSchema struct {
	name      string
	index     []int
	kind      fieldKind
	typ       reflect.Type
	ptr       bool
	omitEmpty bool
	required  bool
	// elem is the element type of repeated fields
	elem     reflect.Type
	elemKind fieldKind
	msg      *messageSchema
}

type messageSchema struct {
	typ           reflect.Type
	fields        []*fieldSchema
	byName        map[string]*fieldSchema
	discriminated bool
}

var schemaCache sync.Map // reflect.Type -> *messageSchema

func schemaOf(t reflect.Type) (*messageSchema, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if ms, ok := schemaCache.Load(t); ok {
		return ms.(*messageSchema), nil
	}
	ms, err := buildSchema(t, make(map[reflect.Type]*messageSchema))
	if err != nil {
		return nil, err
	}
	actual, _ := schemaCache.LoadOrStore(t, ms)
	return actual.(*messageSchema), nil
}

func buildSchema(t reflect.Type, building map[reflect.Type]*messageSchema) (*messageSchema, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s is not a message type", t)
	}
	if ms, ok := building[t]; ok {
		return ms, nil
	}
	ms := &messageSchema{
		typ:           t,
		byName:        make(map[string]*fieldSchema),
		discriminated: reflect.PointerTo(t).Implements(discriminatedType),
	}
	building[t] = ms
	if err := collectFields(ms, t, nil, building); err != nil {
		return nil, err
	}
	return ms, nil
}

func collectFields(ms *messageSchema, t reflect.Type, index []int, building map[reflect.Type]*messageSchema) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		fieldIndex := append(append([]int(nil), index...), i)
		if sf.Anonymous && tag == "" && sf.Type.Kind() == reflect.Struct {
			if err := collectFields(ms, sf.Type, fieldIndex, building); err != nil {
				return err
			}
			continue
		}
		if !sf.IsExported() {
			continue
		}

		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = sf.Name
		}
		f := &fieldSchema{
			name:      name,
			index:     fieldIndex,
			typ:       sf.Type,
			omitEmpty: strings.Contains(","+opts+",", ",omitempty,"),
			required:  hasRule(sf.Tag.Get("validate"), "required"),
		}
		if err := classify(f, building); err != nil {
			return fmt.Errorf("%s.%s: %w", t.Name(), sf.Name, err)
		}
		if _, dup := ms.byName[name]; dup {
			return fmt.Errorf("%s: duplicate field %q", t.Name(), name)
		}
		ms.fields = append(ms.fields, f)
		ms.byName[name] = f
	}
	return nil
}

func classify(f *fieldSchema, building map[reflect.Type]*messageSchema) error {
	t := f.typ
	if t.Kind() == reflect.Pointer {
		f.ptr = true
		t = t.Elem()
	}
	switch {
	case t.Kind() == reflect.Struct:
		ms, err := buildSchema(t, building)
		if err != nil {
			return err
		}
		f.kind = kindMessage
		f.msg = ms
	case t.Kind() == reflect.Slice && !f.ptr:
		elem := t.Elem()
		f.kind = kindRepeated
		f.elem = elem
		switch {
		case elem.Kind() == reflect.Struct:
			ms, err := buildSchema(elem, building)
			if err != nil {
				return err
			}
			f.elemKind = kindMessage
			f.msg = ms
		case isScalar(elem):
			f.elemKind = kindScalar
		default:
			return fmt.Errorf("unsupported element type %s", elem)
		}
	case isScalar(t):
		f.kind = kindScalar
	default:
		return fmt.Errorf("unsupported field type %s", f.typ)
	}
	return nil
}

func isScalar(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func hasRule(validate, rule string) bool {
	for _, r := range strings.Split(validate, ",") {
		if r == rule {
			return true
		}
	}
	return false
}
