package metadata

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// AttributeValue is one typed item attribute. Exactly one field is set.
type AttributeValue struct {
	S    *string                   `json:"S,omitempty"`
	N    *string                   `json:"N,omitempty"`
	B    []byte                    `json:"B,omitempty"`
	BOOL *bool                     `json:"BOOL,omitempty"`
	NULL *bool                     `json:"NULL,omitempty"`
	SS   []string                  `json:"SS,omitempty"`
	NS   []string                  `json:"NS,omitempty"`
	BS   [][]byte                  `json:"BS,omitempty"`
	L    []AttributeValue          `json:"L,omitempty"`
	M    map[string]AttributeValue `json:"M,omitempty"`
}

// Item is a stored attribute map.
type Item map[string]AttributeValue

func StringValue(s string) AttributeValue { return AttributeValue{S: &s} }
func NumberValue(n string) AttributeValue { return AttributeValue{N: &n} }
func BinaryValue(b []byte) AttributeValue { return AttributeValue{B: b} }

// KeyType is the scalar type of a key attribute.
type KeyType string

const (
	KeyTypeString KeyType = "S"
	KeyTypeNumber KeyType = "N"
	KeyTypeBinary KeyType = "B"
)

func (t KeyType) Valid() bool {
	return t == KeyTypeString || t == KeyTypeNumber || t == KeyTypeBinary
}

// Type returns the scalar key type held by v, or "" if v is not a scalar
// usable as a key.
func (v AttributeValue) Type() KeyType {
	switch {
	case v.S != nil:
		return KeyTypeString
	case v.N != nil:
		return KeyTypeNumber
	case v.B != nil:
		return KeyTypeBinary
	}
	return ""
}

// MaxNumberDigits is the number of significant digits a number may carry.
const MaxNumberDigits = 38

// parseNumber reads n as an exact decimal. NaN, infinities and values with
// more than MaxNumberDigits significant digits are rejected.
func parseNumber(n string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(n)
	if err != nil || d.Form != apd.Finite {
		return nil, fmt.Errorf("invalid number %q", n)
	}
	d.Reduce(d)
	if d.NumDigits() > MaxNumberDigits {
		return nil, fmt.Errorf("number %q exceeds %d significant digits", n, MaxNumberDigits)
	}
	return d, nil
}

// CanonicalNumber normalizes a number string so equal values encode
// identically. Parsing is exact, so distinct values never collide.
func CanonicalNumber(n string) (string, error) {
	d, err := parseNumber(n)
	if err != nil {
		return "", err
	}
	if d.IsZero() {
		return "0", nil
	}
	return d.Text('E'), nil
}

// keyBytes returns the raw comparison bytes of a scalar key value.
func (v AttributeValue) keyBytes() ([]byte, error) {
	switch v.Type() {
	case KeyTypeString:
		return []byte(*v.S), nil
	case KeyTypeNumber:
		n, err := CanonicalNumber(*v.N)
		if err != nil {
			return nil, err
		}
		return []byte(n), nil
	case KeyTypeBinary:
		return v.B, nil
	}
	return nil, fmt.Errorf("value is not a key scalar")
}

// encodeKeyValue renders a key scalar as type tag plus hex so it never
// contains the row key separator.
func encodeKeyValue(v AttributeValue) (string, error) {
	raw, err := v.keyBytes()
	if err != nil {
		return "", err
	}
	return string(v.Type()) + hex.EncodeToString(raw), nil
}

// CompareKeyValues orders two scalars of the same key type. Numbers compare
// numerically; strings and binaries bytewise.
func CompareKeyValues(a, b AttributeValue) (int, error) {
	if a.Type() != b.Type() || a.Type() == "" {
		return 0, fmt.Errorf("cannot compare %q with %q", a.Type(), b.Type())
	}
	if a.Type() == KeyTypeNumber {
		x, err := parseNumber(*a.N)
		if err != nil {
			return 0, err
		}
		y, err := parseNumber(*b.N)
		if err != nil {
			return 0, err
		}
		return x.Cmp(y), nil
	}
	ab, _ := a.keyBytes()
	bb, _ := b.keyBytes()
	return bytes.Compare(ab, bb), nil
}
