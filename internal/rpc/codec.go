package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(sf reflect.StructField) string {
		name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return sf.Name
		}
		return name
	})
	return v
}

// Build converts props into a new value of message type t and returns a
// pointer to it. Unknown fields, missing required fields and values whose
// dynamic type does not fit the schema are reported as *EncodingError.
func Build(t reflect.Type, props map[string]any) (any, error) {
	ms, err := schemaOf(t)
	if err != nil {
		return nil, err
	}
	ptr := reflect.New(ms.typ)
	b := &builder{msgName: ms.typ.Name()}
	if err := b.message(ms, ptr.Elem(), props, ""); err != nil {
		return nil, err
	}
	return ptr.Interface(), nil
}

// Validate checks the constraints declared by the validate tags of msg.
func Validate(msg any) error {
	err := validate.Struct(msg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &EncodingError{Message: typeName(msg), Reason: err.Error()}
	}
	fe := verrs[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	reason := "is required"
	if fe.Tag() != "required" {
		reason = fmt.Sprintf("failed constraint %s", fe.Tag())
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
	}
	return &EncodingError{Message: typeName(msg), Field: field, Reason: reason}
}

func typeName(msg any) string {
	t := reflect.TypeOf(msg)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "<nil>"
	}
	return t.Name()
}

type builder struct {
	msgName string
}

func (b *builder) fail(field, format string, args ...any) error {
	return &EncodingError{Message: b.msgName, Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (b *builder) message(ms *messageSchema, dst reflect.Value, props map[string]any, path string) error {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		f, ok := ms.byName[k]
		if !ok {
			return b.fail(path+k, "unknown field")
		}
		val := props[k]
		if val == nil {
			continue
		}
		if err := b.field(f, dst.FieldByIndex(f.index), val, path+k); err != nil {
			return err
		}
	}

	for _, f := range ms.fields {
		if f.required && props[f.name] == nil {
			return b.fail(path+f.name, "missing required field")
		}
	}

	if ms.discriminated {
		return b.variant(ms, dst, props, path)
	}
	return nil
}

// variant checks that exactly the value field selected by the tag is set.
func (b *builder) variant(ms *messageSchema, dst reflect.Value, props map[string]any, path string) error {
	d := dst.Addr().Interface().(Discriminated)
	tagField := d.Discriminator()
	tag, _ := props[tagField].(string)
	if tag == "" {
		if s, ok := props[tagField]; ok && s != nil {
			tag = fmt.Sprint(s)
		}
	}
	variants := d.Variants()
	selected, ok := variants[tag]
	if !ok {
		return b.fail(path+tagField, "unknown type tag %q", tag)
	}
	if props[selected] == nil {
		return b.fail(path+selected, "missing value for type %s", tag)
	}
	for _, field := range variants {
		if field != selected && props[field] != nil {
			return b.fail(path+field, "not allowed for type %s", tag)
		}
	}
	return nil
}

func (b *builder) field(f *fieldSchema, dst reflect.Value, val any, path string) error {
	switch f.kind {
	case kindScalar:
		if f.ptr {
			p := reflect.New(f.typ.Elem())
			if err := b.scalar(p.Elem(), val, path); err != nil {
				return err
			}
			dst.Set(p)
			return nil
		}
		return b.scalar(dst, val, path)
	case kindMessage:
		props, ok := val.(map[string]any)
		if !ok {
			return b.fail(path, "expected mapping, got %T", val)
		}
		if f.ptr {
			p := reflect.New(f.typ.Elem())
			if err := b.message(f.msg, p.Elem(), props, path+"."); err != nil {
				return err
			}
			dst.Set(p)
			return nil
		}
		return b.message(f.msg, dst, props, path+".")
	case kindRepeated:
		return b.repeated(f, dst, val, path)
	}
	return b.fail(path, "unsupported field kind %s", f.kind)
}

func (b *builder) repeated(f *fieldSchema, dst reflect.Value, val any, path string) error {
	rv := reflect.ValueOf(val)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return b.fail(path, "expected sequence, got %T", val)
	}
	n := rv.Len()
	out := reflect.MakeSlice(f.typ, n, n)
	for i := 0; i < n; i++ {
		item := rv.Index(i).Interface()
		itemPath := path + "[" + strconv.Itoa(i) + "]"
		if item == nil {
			return b.fail(itemPath, "null element")
		}
		switch f.elemKind {
		case kindScalar:
			if err := b.scalar(out.Index(i), item, itemPath); err != nil {
				return err
			}
		case kindMessage:
			props, ok := item.(map[string]any)
			if !ok {
				return b.fail(itemPath, "expected mapping, got %T", item)
			}
			if err := b.message(f.msg, out.Index(i), props, itemPath+"."); err != nil {
				return err
			}
		}
	}
	dst.Set(out)
	return nil
}

func (b *builder) scalar(dst reflect.Value, val any, path string) error {
	rv := reflect.ValueOf(val)
	switch dst.Kind() {
	case reflect.String:
		if rv.Kind() != reflect.String {
			return b.fail(path, "expected string, got %T", val)
		}
		if _, isNumber := val.(json.Number); isNumber {
			return b.fail(path, "expected string, got number")
		}
		dst.SetString(rv.String())
	case reflect.Bool:
		if rv.Kind() != reflect.Bool {
			return b.fail(path, "expected bool, got %T", val)
		}
		dst.SetBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt(val)
		if err != nil {
			return b.fail(path, "%v", err)
		}
		if dst.OverflowInt(n) {
			return b.fail(path, "value %d overflows %s", n, dst.Type())
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toInt(val)
		if err != nil {
			return b.fail(path, "%v", err)
		}
		if n < 0 || dst.OverflowUint(uint64(n)) {
			return b.fail(path, "value %d overflows %s", n, dst.Type())
		}
		dst.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		x, err := toFloat(val)
		if err != nil {
			return b.fail(path, "%v", err)
		}
		if dst.OverflowFloat(x) {
			return b.fail(path, "value %g overflows %s", x, dst.Type())
		}
		dst.SetFloat(x)
	default:
		return b.fail(path, "unsupported scalar type %s", dst.Type())
	}
	return nil
}

func toInt(val any) (int64, error) {
	if num, ok := val.(json.Number); ok {
		if n, err := num.Int64(); err == nil {
			return n, nil
		}
		x, err := num.Float64()
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", num.String())
		}
		val = x
	}
	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("value %d out of range", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		x := rv.Float()
		if x != math.Trunc(x) || x > math.MaxInt64 || x < math.MinInt64 {
			return 0, fmt.Errorf("expected integer, got %v", x)
		}
		return int64(x), nil
	}
	return 0, fmt.Errorf("expected integer, got %T", val)
}

func toFloat(val any) (float64, error) {
	if num, ok := val.(json.Number); ok {
		x, err := num.Float64()
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", num.String())
		}
		return x, nil
	}
	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return 0, fmt.Errorf("expected number, got %T", val)
}

// Decode converts a message into a property mapping. Unset fields are left
// out: nil pointers and slices, and zero scalars tagged omitempty.
func Decode(msg any) (map[string]any, error) {
	rv := reflect.ValueOf(msg)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("decode: nil message")
		}
		rv = rv.Elem()
	}
	ms, err := schemaOf(rv.Type())
	if err != nil {
		return nil, err
	}
	return decodeMessage(ms, rv), nil
}

func decodeMessage(ms *messageSchema, v reflect.Value) map[string]any {
	out := make(map[string]any, len(ms.fields))
	for _, f := range ms.fields {
		fv := v.FieldByIndex(f.index)
		if f.ptr {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		} else if f.kind == kindRepeated {
			if fv.IsNil() {
				continue
			}
		} else if f.omitEmpty && fv.IsZero() {
			continue
		}

		switch f.kind {
		case kindScalar:
			out[f.name] = canonical(fv)
		case kindMessage:
			out[f.name] = decodeMessage(f.msg, fv)
		case kindRepeated:
			items := make([]any, fv.Len())
			for i := range items {
				if f.elemKind == kindMessage {
					items[i] = decodeMessage(f.msg, fv.Index(i))
				} else {
					items[i] = canonical(fv.Index(i))
				}
			}
			out[f.name] = items
		}
	}
	return out
}

func canonical(v reflect.Value) any {
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return v.Float()
	}
	return v.Interface()
}
