// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package bson

import (
	"fmt"
	"reflect"
	"time"

	"github.com/driftdb/mongo-driver/x/bsonx/bsoncore"
)

// Unmarshaler is implemented by types that decode a BSON document into themselves.
type Unmarshaler interface {
	UnmarshalBSON([]byte) error
}

// Unmarshal decodes data into val, which must be a pointer to a D, M, Raw, map, or struct.
func Unmarshal(data []byte, val interface{}) error {
	if u, ok := val.(Unmarshaler); ok {
		return u.UnmarshalBSON(data)
	}
	rv := reflect.ValueOf(val)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("bson: Unmarshal requires a non-nil pointer, got %T", val)
	}
	return unmarshalInto(bsoncore.Document(data), rv.Elem())
}

func unmarshalInto(doc bsoncore.Document, rv reflect.Value) error {
	switch v := rv.Addr().Interface().(type) {
	case *Raw:
		*v = Raw(doc.Copy())
		return nil
	case *D:
		elems, err := doc.Elements()
		if err != nil {
			return err
		}
		out := make(D, 0, len(elems))
		for _, e := range elems {
			val, err := valueToGo(e.Value())
			if err != nil {
				return err
			}
			out = append(out, E{Key: e.Key(), Value: val})
		}
		*v = out
		return nil
	case *M:
		elems, err := doc.Elements()
		if err != nil {
			return err
		}
		out := make(M, len(elems))
		for _, e := range elems {
			val, err := valueToGo(e.Value())
			if err != nil {
				return err
			}
			out[e.Key()] = val
		}
		*v = out
		return nil
	}

	switch rv.Kind() {
	case reflect.Map:
		return unmarshalMapReflect(doc, rv)
	case reflect.Struct:
		return unmarshalStruct(doc, rv)
	case reflect.Ptr:
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		return unmarshalInto(doc, rv.Elem())
	default:
		return fmt.Errorf("bson: cannot unmarshal document into %s", rv.Type())
	}
}

func unmarshalMapReflect(doc bsoncore.Document, rv reflect.Value) error {
	if rv.IsNil() {
		rv.Set(reflect.MakeMap(rv.Type()))
	}
	elems, err := doc.Elements()
	if err != nil {
		return err
	}
	valType := rv.Type().Elem()
	for _, e := range elems {
		gv, err := valueToGo(e.Value())
		if err != nil {
			return err
		}
		vv := reflect.ValueOf(gv)
		target := reflect.New(valType).Elem()
		if gv != nil && vv.Type().AssignableTo(valType) {
			target.Set(vv)
		} else if gv != nil {
			target.Set(reflect.ValueOf(fmt.Sprint(gv)))
		}
		rv.SetMapIndex(reflect.ValueOf(e.Key()).Convert(rv.Type().Key()), target)
	}
	return nil
}

func unmarshalStruct(doc bsoncore.Document, rv reflect.Value) error {
	t := rv.Type()
	byName := map[string]int{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		name, _, skip := fieldName(f)
		if skip {
			continue
		}
		byName[name] = i
	}
	elems, err := doc.Elements()
	if err != nil {
		return err
	}
	for _, e := range elems {
		idx, ok := byName[e.Key()]
		if !ok {
			continue
		}
		if err := assign(rv.Field(idx), e.Value()); err != nil {
			return err
		}
	}
	return nil
}

func assign(field reflect.Value, v bsoncore.Value) error {
	if field.Kind() == reflect.Ptr {
		if v.Type == bsoncore.TypeNull {
			return nil
		}
		field.Set(reflect.New(field.Type().Elem()))
		return assign(field.Elem(), v)
	}
	gv, err := valueToGo(v)
	if err != nil {
		return err
	}
	if gv == nil {
		return nil
	}
	gvv := reflect.ValueOf(gv)
	if gvv.Type().AssignableTo(field.Type()) {
		field.Set(gvv)
		return nil
	}
	if gvv.Type().ConvertibleTo(field.Type()) {
		field.Set(gvv.Convert(field.Type()))
		return nil
	}
	if field.Kind() == reflect.Struct && v.Type == bsoncore.TypeEmbeddedDocument {
		return unmarshalInto(bsoncore.Document(v.Data), field)
	}
	return fmt.Errorf("bson: cannot assign %T into %s", gv, field.Type())
}

func valueToGo(v bsoncore.Value) (interface{}, error) {
	switch v.Type {
	case bsoncore.TypeNull, bsoncore.TypeUndefined:
		return nil, nil
	case bsoncore.TypeString, bsoncore.TypeJavaScript, bsoncore.TypeSymbol:
		s, _ := v.StringValueOK()
		return s, nil
	case bsoncore.TypeInt32:
		i, _ := v.Int32OK()
		return i, nil
	case bsoncore.TypeInt64:
		i, _ := v.Int64OK()
		return i, nil
	case bsoncore.TypeDouble:
		d, _ := v.DoubleOK()
		return d, nil
	case bsoncore.TypeBoolean:
		b, _ := v.BooleanOK()
		return b, nil
	case bsoncore.TypeDateTime:
		ms, _ := v.AsInt64OK()
		return time.UnixMilli(ms).UTC(), nil
	case bsoncore.TypeTimestamp:
		t, i := v.Timestamp()
		return Timestamp{T: t, I: i}, nil
	case bsoncore.TypeEmbeddedDocument:
		var d D
		if err := unmarshalInto(bsoncore.Document(v.Data), reflect.ValueOf(&d).Elem()); err != nil {
			return nil, err
		}
		return d, nil
	case bsoncore.TypeArray:
		vals, err := bsoncore.Array(v.Data).Values()
		if err != nil {
			return nil, err
		}
		out := make(A, len(vals))
		for i, vv := range vals {
			gv, err := valueToGo(vv)
			if err != nil {
				return nil, err
			}
			out[i] = gv
		}
		return out, nil
	default:
		return v.Data, nil
	}
}
