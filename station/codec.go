package station

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
)

// Encode converts a typed record into a Document. Decimals become decimal
// strings and timestamps RFC 3339 strings, so every backend stores the same
// shape.
func Encode(record any) (Document, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", record, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode %T: %w", record, err)
	}
	return doc, nil
}

// Decode converts a Document into a typed record. Backends hand values back
// in different shapes (float64 from JSON, int32/int64 from BSON, strings or
// native times), so decoding is tolerant of all of them.
func Decode(doc Document, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			decimalHook,
			timeHook,
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(doc)); err != nil {
		return fmt.Errorf("decode %T: %w", out, err)
	}
	return nil
}

var (
	decimalType = reflect.TypeOf(decimal.Decimal{})
	timeType    = reflect.TypeOf(time.Time{})
)

func decimalHook(from, to reflect.Type, data any) (any, error) {
	if to != decimalType || from == decimalType {
		return data, nil
	}
	return ToDecimal(data)
}

func timeHook(from, to reflect.Type, data any) (any, error) {
	if to != timeType || from == timeType {
		return data, nil
	}
	return ToTime(data)
}

// ToDecimal converts a stored scalar to a decimal.
func ToDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case string:
		if x == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(x)
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int32:
		return decimal.NewFromInt32(x), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case json.Number:
		return decimal.NewFromString(x.String())
	case nil:
		return decimal.Zero, nil
	}
	return decimal.Zero, fmt.Errorf("cannot convert %T to decimal", v)
}

// ToTime converts a stored scalar to a time.
func ToTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		if x == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, x)
	case interface{ Time() time.Time }:
		return x.Time(), nil
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to time", v)
}

// Partial builds an Update document, encoding values the way Encode does.
func Partial(fields map[string]any) Document {
	doc := make(Document, len(fields))
	for k, v := range fields {
		doc[k] = encodeValue(v)
	}
	return doc
}

func encodeValue(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.Format(time.RFC3339Nano)
	}
	return scalar(v)
}
