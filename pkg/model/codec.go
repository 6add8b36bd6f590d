package model

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Decode decodes a raw document into the target object.
// Request and response documents travel as untyped values, so both sides
// need a decode step before the fields can be read.
func Decode(raw any, target any) error {
	decodeHook := func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t.Kind() == reflect.String && f.Kind() == reflect.Slice {
			if bytes, ok := data.([]uint8); ok {
				return string(bytes), nil
			}
		}
		return data, nil
	}

	paramCheck := func(a any) bool {
		t := reflect.TypeOf(a)
		if t == nil {
			return false
		}
		if t.Kind() == reflect.Ptr {
			return !reflect.ValueOf(a).IsNil()
		}

		return false
	}

	if !paramCheck(target) {
		return fmt.Errorf("wrong receiver for decode")
	}

	decoderConfig := &mapstructure.DecoderConfig{
		DecodeHook: decodeHook,
		TagName:    "json",
		Result:     &target,
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return err
	}

	return nil
}
