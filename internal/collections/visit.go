// Package collections обходит вложенные структуры данных.
//
// Любое значение классифицируется явно: последовательность (slice, array),
// отображение (map), запись с именованными полями (struct или указатель
// на struct с экспортируемыми полями) или непрозрачный лист. Обход
// пересобирает контейнеры той же формы и применяет функцию только к листьям.
package collections

import (
	"reflect"
	"strings"
)

// Kind — класс значения для обхода.
type Kind int

const (
	KindLeaf Kind = iota
	KindSequence
	KindMapping
	KindRecord
)

// String возвращает имя класса.
func (k Kind) String() string {
	switch k {
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	case KindRecord:
		return "record"
	default:
		return "leaf"
	}
}

// Atom — маркер типов, внутрь которых обход никогда не заходит,
// даже если структурно они являются контейнерами.
type Atom interface {
	Atom()
}

// Quote — обёртка, защищающая значение от обхода.
type Quote struct {
	Value any
}

// Atom реализует маркер Atom.
func (Quote) Atom() {}

// Unquote снимает обёртку Quote (если она есть).
func Unquote(v any) any {
	if q, ok := v.(Quote); ok {
		return q.Value
	}
	return v
}

// Option настраивает обход.
type Option func(*walker)

// WithLeaves добавляет правило: значения, для которых fn возвращает true,
// считаются листьями.
func WithLeaves(fn func(v any) bool) Option {
	return func(w *walker) {
		w.leaves = append(w.leaves, fn)
	}
}

type walker struct {
	leaves []func(v any) bool
	fn     func(leaf any) (any, error)
}

// Classify определяет класс значения.
func Classify(v any, opts ...Option) Kind {
	w := newWalker(nil, opts)
	return w.classify(v)
}

// Walk обходит v и возвращает копию той же формы, в которой каждый лист
// заменён результатом fn.
//
// Контейнер сохраняет свой тип, если новые значения ему подходят. Иначе
// последовательность становится []any, отображение — map[string]any
// (или map[any]any для нестроковых ключей), запись — map[string]any
// с именами полей.
func Walk(v any, fn func(leaf any) (any, error), opts ...Option) (any, error) {
	w := newWalker(fn, opts)
	return w.visit(v)
}

// Leaves возвращает все листья v в порядке обхода.
// Ключи отображений обходятся в порядке сортировки строкового представления.
func Leaves(v any, opts ...Option) []any {
	var out []any
	_, _ = Walk(v, func(leaf any) (any, error) {
		out = append(out, leaf)
		return leaf, nil
	}, opts...)
	return out
}

func newWalker(fn func(any) (any, error), opts []Option) *walker {
	w := &walker{fn: fn}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *walker) classify(v any) Kind {
	if v == nil {
		return KindLeaf
	}
	if _, ok := v.(Atom); ok {
		return KindLeaf
	}
	for _, isLeaf := range w.leaves {
		if isLeaf(v) {
			return KindLeaf
		}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return KindLeaf
		}
		return KindSequence
	case reflect.Map:
		return KindMapping
	case reflect.Struct:
		if hasExportedFields(rv.Type()) {
			return KindRecord
		}
	case reflect.Pointer:
		if !rv.IsNil() && rv.Elem().Kind() == reflect.Struct && hasExportedFields(rv.Elem().Type()) {
			return KindRecord
		}
	}
	return KindLeaf
}

func (w *walker) visit(v any) (any, error) {
	switch w.classify(v) {
	case KindSequence:
		return w.visitSequence(reflect.ValueOf(v))
	case KindMapping:
		return w.visitMapping(reflect.ValueOf(v))
	case KindRecord:
		return w.visitRecord(reflect.ValueOf(v))
	default:
		return w.fn(v)
	}
}

func (w *walker) visitSequence(rv reflect.Value) (any, error) {
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		return rv.Interface(), nil
	}

	n := rv.Len()
	out := make([]any, n)
	for i := 0; i < n; i++ {
		item, err := w.visit(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out[i] = item
	}

	typ := rv.Type()
	if !allAssignable(out, typ.Elem()) {
		return out, nil
	}

	var nv reflect.Value
	if typ.Kind() == reflect.Array {
		nv = reflect.New(typ).Elem()
	} else {
		nv = reflect.MakeSlice(typ, n, n)
	}
	for i, item := range out {
		nv.Index(i).Set(valueOf(item, typ.Elem()))
	}
	return nv.Interface(), nil
}

func (w *walker) visitMapping(rv reflect.Value) (any, error) {
	if rv.IsNil() {
		return rv.Interface(), nil
	}

	keys := sortedKeys(rv)
	values := make([]any, len(keys))
	for i, k := range keys {
		item, err := w.visit(rv.MapIndex(k).Interface())
		if err != nil {
			return nil, err
		}
		values[i] = item
	}

	typ := rv.Type()
	if allAssignable(values, typ.Elem()) {
		nv := reflect.MakeMapWithSize(typ, len(keys))
		for i, k := range keys {
			nv.SetMapIndex(k, valueOf(values[i], typ.Elem()))
		}
		return nv.Interface(), nil
	}

	if typ.Key().Kind() == reflect.String {
		out := make(map[string]any, len(keys))
		for i, k := range keys {
			out[k.String()] = values[i]
		}
		return out, nil
	}
	out := make(map[any]any, len(keys))
	for i, k := range keys {
		out[k.Interface()] = values[i]
	}
	return out, nil
}

func (w *walker) visitRecord(rv reflect.Value) (any, error) {
	isPtr := rv.Kind() == reflect.Pointer
	if isPtr {
		rv = rv.Elem()
	}
	typ := rv.Type()

	type field struct {
		index int
		name  string
		value any
	}
	var fields []field
	for i := 0; i < typ.NumField(); i++ {
		sf := typ.Field(i)
		if !sf.IsExported() {
			continue
		}
		item, err := w.visit(rv.Field(i).Interface())
		if err != nil {
			return nil, err
		}
		fields = append(fields, field{index: i, name: fieldName(sf), value: item})
	}

	fits := true
	for _, f := range fields {
		if !assignable(f.value, typ.Field(f.index).Type) {
			fits = false
			break
		}
	}

	if !fits {
		out := make(map[string]any, len(fields))
		for _, f := range fields {
			out[f.name] = f.value
		}
		return out, nil
	}

	nv := reflect.New(typ).Elem()
	nv.Set(rv)
	for _, f := range fields {
		nv.Field(f.index).Set(valueOf(f.value, typ.Field(f.index).Type))
	}
	if isPtr {
		return nv.Addr().Interface(), nil
	}
	return nv.Interface(), nil
}

func hasExportedFields(typ reflect.Type) bool {
	for i := 0; i < typ.NumField(); i++ {
		if typ.Field(i).IsExported() {
			return true
		}
	}
	return false
}

func fieldName(sf reflect.StructField) string {
	if tag, ok := sf.Tag.Lookup("json"); ok {
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return sf.Name
}

func allAssignable(values []any, typ reflect.Type) bool {
	for _, v := range values {
		if !assignable(v, typ) {
			return false
		}
	}
	return true
}

func assignable(v any, typ reflect.Type) bool {
	if v == nil {
		switch typ.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return true
		}
		return false
	}
	return reflect.TypeOf(v).AssignableTo(typ)
}

func valueOf(v any, typ reflect.Type) reflect.Value {
	if v == nil {
		return reflect.Zero(typ)
	}
	return reflect.ValueOf(v)
}
