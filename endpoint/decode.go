package endpoint

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
)

var defaultFieldLimit = 16 * 1024 // 16KB

// Unmarshal populates dst (must be a non-nil pointer) from the request.
//
// Supported structtags:
//   - `path:"name[,json]"`: r.PathValue(name)
//   - `query:"name[,json]"`: r.URL.Query()
//   - `header:"name[,json]"`: r.Header
//   - `body:""`: the request body; string and []byte fields receive it raw,
//     any other type is decoded as JSON and requires a JSON Content-Type.
//   - `path:"-"` (or any source with "-") to ignore the field entirely
//   - `maxLength:"n"` to set the maximum byte length for a field value
//
// If the name is empty it defaults to the struct field name lowercased.
// Untagged scalar fields are looked up in path, then query. Untagged struct
// fields are decoded recursively unless they implement encoding.TextUnmarshaler.
// When several sources are tagged the first one present wins, in the order
// path, query, header, body. Fields with no data are left unchanged.
//
// Length constraints: a value longer than maxLength is rejected with 400 Bad
// Request. Without a maxLength tag a 16KB limit applies; `maxLength:""` or
// `maxLength:"0"` means no limit.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}

	root := v.Elem()
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	if root.Kind() != reflect.Struct {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct (or pointer to struct)"))
	}

	d := &decoder{r: r, query: url.Values{}}
	if r.URL != nil {
		d.query = r.URL.Query()
	}
	return d.decodeStruct(root)
}

type decoder struct {
	r        *http.Request
	query    url.Values
	bodyUsed bool
}

type sourceTag struct {
	Source    string
	Name      string
	JSON      bool
	MaxLength int
}

var sources = []string{"path", "query", "header", "body"}

var textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()

func (d *decoder) decodeStruct(structVal reflect.Value) error {
	t := structVal.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" {
			continue
		}
		fv := structVal.Field(i)

		tags, ignored, err := parseSourceTags(sf)
		if err != nil {
			return Error(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: %w", sf.Name, err))
		}
		if ignored {
			continue
		}

		if len(tags) == 0 {
			if isStructLike(sf.Type) {
				if fv.Kind() == reflect.Pointer {
					if fv.IsNil() {
						fv.Set(reflect.New(fv.Type().Elem()))
					}
					fv = fv.Elem()
				}
				if err := d.decodeStruct(fv); err != nil {
					return err
				}
				continue
			}
			name := strings.ToLower(sf.Name)
			tags = []sourceTag{{Source: "path", Name: name}, {Source: "query", Name: name}}
		}

		limit, err := fieldLengthLimit(sf)
		if err != nil {
			return Error(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: %w", sf.Name, err))
		}

		for _, tag := range tags {
			tag.MaxLength = limit
			if tag.Source == "body" && !tag.JSON && !isStringOrBytes(sf.Type) {
				tag.JSON = true
			}
			ok, err := d.setField(fv, tag, sf.Name)
			if err != nil {
				return err
			}
			if ok {
				break
			}
		}
	}
	return nil
}

// isStructLike reports whether t should be decoded field by field.
func isStructLike(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	return !t.Implements(textUnmarshalerType) && !reflect.PointerTo(t).Implements(textUnmarshalerType)
}

func isStringOrBytes(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.String || (t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8)
}

func parseSourceTags(sf reflect.StructField) (tags []sourceTag, ignored bool, err error) {
	defaultName := strings.ToLower(sf.Name)
	for _, source := range sources {
		val, has := sf.Tag.Lookup(source)
		if !has {
			continue
		}
		parts := strings.Split(val, ",")
		name := strings.TrimSpace(parts[0])
		if name == "-" {
			return nil, true, nil
		}
		if name == "" {
			name = defaultName
		}
		tag := sourceTag{Source: source, Name: name}
		for _, p := range parts[1:] {
			switch flag := strings.ToLower(strings.TrimSpace(p)); flag {
			case "":
			case "json":
				tag.JSON = true
			default:
				return nil, false, fmt.Errorf("unknown %s tag flag %q", source, flag)
			}
		}
		tags = append(tags, tag)
	}
	return tags, false, nil
}

func fieldLengthLimit(sf reflect.StructField) (int, error) {
	val, has := sf.Tag.Lookup("maxLength")
	if !has {
		return defaultFieldLimit, nil
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("maxLength: invalid integer %q", val)
	}
	if n < 0 {
		return 0, errors.New("maxLength: must be >= 0")
	}
	return n, nil
}

func (d *decoder) fetch(tag sourceTag) ([][]byte, bool, error) {
	switch tag.Source {
	case "path":
		v := d.r.PathValue(tag.Name)
		if v == "" {
			return nil, false, nil
		}
		return [][]byte{[]byte(v)}, true, nil
	case "query":
		return toBytes(d.query[tag.Name])
	case "header":
		return toBytes(d.r.Header[http.CanonicalHeaderKey(tag.Name)])
	case "body":
		return d.fetchBody(tag)
	}
	return nil, false, nil
}

func toBytes(vs []string) ([][]byte, bool, error) {
	if len(vs) == 0 {
		return nil, false, nil
	}
	out := make([][]byte, len(vs))
	for i, s := range vs {
		out[i] = []byte(s)
	}
	return out, true, nil
}

func (d *decoder) fetchBody(tag sourceTag) ([][]byte, bool, error) {
	r := d.r
	if r.Body == nil || r.Body == http.NoBody {
		return nil, false, nil
	}
	if d.bodyUsed {
		return nil, false, Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: multiple body fields"))
	}
	d.bodyUsed = true

	if tag.JSON && !bodyIsJSON(r) {
		mt := bodyMediaType(r)
		if mt == "" {
			mt = "(missing)"
		}
		return nil, false, Error(http.StatusUnsupportedMediaType, "", fmt.Errorf("endpoint: decode: body: unsupported media type %s", mt))
	}

	src := io.Reader(r.Body)
	if tag.MaxLength > 0 {
		// One extra byte distinguishes "exactly at the limit" from "over".
		src = io.LimitReader(r.Body, int64(tag.MaxLength)+1)
	}
	b, err := io.ReadAll(src)
	if err != nil {
		return nil, false, Error(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: body: %w", err))
	}
	return [][]byte{b}, true, nil
}

func bodyIsJSON(r *http.Request) bool {
	mt := bodyMediaType(r)
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func bodyMediaType(r *http.Request) string {
	ct := strings.TrimSpace(r.Header.Get("Content-Type"))
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(ct)
	}
	return strings.ToLower(mt)
}

func (d *decoder) setField(field reflect.Value, tag sourceTag, fieldName string) (bool, error) {
	raw, ok, err := d.fetch(tag)
	if err != nil || !ok {
		return false, err
	}
	for _, val := range raw {
		if tag.MaxLength > 0 && len(val) > tag.MaxLength {
			return false, Error(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: value exceeds max length %d", tag.Source, tag.Name, fieldName, tag.MaxLength))
		}
	}
	if err := setFieldFromValues(field, raw, tag.JSON); err != nil {
		return false, Error(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: %w", tag.Source, tag.Name, fieldName, err))
	}
	return true, nil
}

func setFieldFromValues(v reflect.Value, values [][]byte, asJSON bool) error {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	if asJSON {
		return json.NewDecoder(bytes.NewReader(values[0])).Decode(v.Addr().Interface())
	}

	isByteSlice := v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8
	if v.Kind() == reflect.Slice && !isByteSlice {
		slice := reflect.MakeSlice(v.Type(), 0, len(values))
		for _, val := range values {
			elem := reflect.New(v.Type().Elem()).Elem()
			if err := setFieldFromBytes(elem, val); err != nil {
				return err
			}
			slice = reflect.Append(slice, elem)
		}
		v.Set(slice)
		return nil
	}
	return setFieldFromBytes(v, values[0])
}

func setFieldFromBytes(v reflect.Value, b []byte) error {
	if v.CanAddr() {
		if u, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText(b)
		}
	}

	s := string(b)
	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
		return nil
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			v.SetBytes(b)
			return nil
		}
	case reflect.Bool:
		bb, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(bb)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
		return nil
	}
	return fmt.Errorf("unsupported kind %s", v.Kind())
}
