package models

import (
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/Fidelis900/crown-commune/internal/remote"
)

// Decode converts a remote record into T using the json field tags. Input
// is weakly typed: timestamps may be time.Time or RFC 3339 strings, numbers
// may arrive as float64 and booleans as 0/1.
func Decode[T any](rec remote.Record) (T, error) {
	var out T
	if rec == nil {
		return out, errors.New("decode: nil record")
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		),
	})
	if err != nil {
		return out, errors.Wrap(err, "new decoder")
	}
	if err := dec.Decode(map[string]any(rec)); err != nil {
		return out, errors.Wrap(err, "decode record")
	}
	return out, nil
}

// DecodeAll decodes every record, stopping at the first failure.
func DecodeAll[T any](recs []remote.Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := Decode[T](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// timeOrNil keeps optional timestamps absent from records instead of zero.
func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
