package billing

import (
	"encoding/json"
	"strconv"
)

type valueKind uint8

const (
	kindInt valueKind = iota + 1
	kindString
	kindBool
)

// FeatureValue is a plan limit: an integer quota, a support-level string or a
// boolean flag. It encodes to JSON as the bare value.
type FeatureValue struct {
	kind valueKind
	i    int64
	s    string
	b    bool
}

func IntValue(n int64) FeatureValue     { return FeatureValue{kind: kindInt, i: n} }
func StringValue(s string) FeatureValue { return FeatureValue{kind: kindString, s: s} }
func BoolValue(b bool) FeatureValue     { return FeatureValue{kind: kindBool, b: b} }

// Int returns the integer value and whether the feature is numeric.
func (v FeatureValue) Int() (int64, bool) { return v.i, v.kind == kindInt }

// Bool returns the flag value and whether the feature is a flag.
func (v FeatureValue) Bool() (bool, bool) { return v.b, v.kind == kindBool }

// Text returns the string value and whether the feature is textual.
func (v FeatureValue) Text() (string, bool) { return v.s, v.kind == kindString }

// Any returns the underlying Go value (int64, string or bool), or nil for the
// zero FeatureValue.
func (v FeatureValue) Any() any {
	switch v.kind {
	case kindInt:
		return v.i
	case kindString:
		return v.s
	case kindBool:
		return v.b
	}
	return nil
}

func (v FeatureValue) String() string {
	switch v.kind {
	case kindInt:
		return strconv.FormatInt(v.i, 10)
	case kindString:
		return v.s
	case kindBool:
		return strconv.FormatBool(v.b)
	}
	return ""
}

func (v FeatureValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}
