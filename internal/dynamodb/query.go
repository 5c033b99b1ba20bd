package dynamodb

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"github.com/eniz1806/CloudEmu/internal/apierr"
	"github.com/eniz1806/CloudEmu/internal/metadata"
)

// Comparison operators accepted in key conditions.
const (
	OpEQ         = "EQ"
	OpLT         = "LT"
	OpLE         = "LE"
	OpGT         = "GT"
	OpGE         = "GE"
	OpBetween    = "BETWEEN"
	OpBeginsWith = "BEGINS_WITH"
)

// Condition constrains one key attribute.
type Condition struct {
	ComparisonOperator string                    `json:"ComparisonOperator"`
	AttributeValueList []metadata.AttributeValue `json:"AttributeValueList"`
}

type QueryInput struct {
	TableName     string               `json:"TableName"`
	KeyConditions map[string]Condition `json:"KeyConditions"`

	// ScanIndexForward orders by range key; nil means ascending.
	ScanIndexForward  *bool  `json:"ScanIndexForward,omitempty"`
	Limit             int    `json:"Limit,omitempty"`
	ExclusiveStartKey string `json:"ExclusiveStartKey,omitempty"`
}

type QueryOutput struct {
	Items            []metadata.Item `json:"Items"`
	Count            int             `json:"Count"`
	LastEvaluatedKey string          `json:"LastEvaluatedKey,omitempty"`
}

// rangeCond is a validated range key condition.
type rangeCond struct {
	op   string
	args []metadata.AttributeValue
}

func (c rangeCond) match(v metadata.AttributeValue) (bool, error) {
	if c.op == OpBeginsWith {
		return hasKeyPrefix(v, c.args[0]), nil
	}
	cmp, err := metadata.CompareKeyValues(v, c.args[0])
	if err != nil {
		return false, err
	}
	switch c.op {
	case OpEQ:
		return cmp == 0, nil
	case OpLT:
		return cmp < 0, nil
	case OpLE:
		return cmp <= 0, nil
	case OpGT:
		return cmp > 0, nil
	case OpGE:
		return cmp >= 0, nil
	case OpBetween:
		hi, err := metadata.CompareKeyValues(v, c.args[1])
		if err != nil {
			return false, err
		}
		return cmp >= 0 && hi <= 0, nil
	}
	return false, nil
}

func hasKeyPrefix(v, prefix metadata.AttributeValue) bool {
	switch {
	case v.S != nil && prefix.S != nil:
		return strings.HasPrefix(*v.S, *prefix.S)
	case v.B != nil && prefix.B != nil:
		return bytes.HasPrefix(v.B, prefix.B)
	}
	return false
}

// parseConditions splits the key conditions into the hash key value and an
// optional range condition, checking operators, arity and types.
func parseConditions(t metadata.Table, conds map[string]Condition) (metadata.AttributeValue, *rangeCond, error) {
	res := apierr.Resource{Type: apierr.ResourceTable, Name: t.Name}
	invalid := func(format string, args ...any) error {
		return apierr.InvalidArgument(res, apierr.ReasonMalformedInput, format, args...)
	}

	hc, ok := conds[t.HashKey.Name]
	if !ok {
		return metadata.AttributeValue{}, nil, invalid("query requires a condition on hash key %q", t.HashKey.Name)
	}
	if hc.ComparisonOperator != OpEQ || len(hc.AttributeValueList) != 1 {
		return metadata.AttributeValue{}, nil, invalid("hash key condition must be EQ with one value")
	}
	hash := hc.AttributeValueList[0]

	var rc *rangeCond
	for name, c := range conds {
		if name == t.HashKey.Name {
			continue
		}
		if t.RangeKey == nil || name != t.RangeKey.Name {
			return metadata.AttributeValue{}, nil, invalid("%q is not a key attribute", name)
		}
		want := 1
		switch c.ComparisonOperator {
		case OpEQ, OpLT, OpLE, OpGT, OpGE:
		case OpBetween:
			want = 2
		case OpBeginsWith:
			if t.RangeKey.Type == metadata.KeyTypeNumber {
				return metadata.AttributeValue{}, nil, invalid("BEGINS_WITH does not apply to number keys")
			}
		default:
			return metadata.AttributeValue{}, nil, invalid("unsupported operator %q", c.ComparisonOperator)
		}
		if len(c.AttributeValueList) != want {
			return metadata.AttributeValue{}, nil, invalid("%s takes %d value(s)", c.ComparisonOperator, want)
		}
		for _, v := range c.AttributeValueList {
			if v.Type() != t.RangeKey.Type {
				return metadata.AttributeValue{}, nil, invalid("range key %q must be of type %s", name, t.RangeKey.Type)
			}
		}
		rc = &rangeCond{op: c.ComparisonOperator, args: c.AttributeValueList}
	}
	return hash, rc, nil
}

// Query returns the items sharing one hash key value, ordered by range key
// and filtered by the optional range condition.
func (s *Service) Query(ctx context.Context, in QueryInput) (QueryOutput, error) {
	if err := tableOnly(in.TableName); err != nil {
		return QueryOutput{}, err
	}
	t, err := s.catalog.GetTable(in.TableName)
	if err != nil {
		return QueryOutput{}, err
	}
	hash, rc, err := parseConditions(t, in.KeyConditions)
	if err != nil {
		return QueryOutput{}, err
	}
	var start metadata.Item
	if in.ExclusiveStartKey != "" {
		if start, err = metadata.DecodeItemKey(t.Name, in.ExclusiveStartKey); err != nil {
			return QueryOutput{}, err
		}
	}

	t, items, err := s.catalog.QueryItems(in.TableName, hash)
	if err != nil {
		return QueryOutput{}, err
	}

	forward := in.ScanIndexForward == nil || *in.ScanIndexForward
	if t.RangeKey != nil {
		name := t.RangeKey.Name
		sort.SliceStable(items, func(i, j int) bool {
			c, _ := metadata.CompareKeyValues(items[i][name], items[j][name])
			if forward {
				return c < 0
			}
			return c > 0
		})
	}

	matched := items[:0]
	for _, item := range items {
		if rc != nil {
			ok, err := rc.match(item[t.RangeKey.Name])
			if err != nil {
				return QueryOutput{}, apierr.InvalidArgument(apierr.Resource{Type: apierr.ResourceTable, Name: t.Name},
					apierr.ReasonMalformedInput, "%v", err)
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, item)
	}

	if start != nil && t.RangeKey != nil {
		matched, err = skipThrough(matched, start, t.RangeKey.Name, forward)
		if err != nil {
			return QueryOutput{}, err
		}
	} else if start != nil {
		// Without a range key a hash value holds one item, already returned.
		matched = nil
	}

	out := QueryOutput{Items: matched}
	if in.Limit > 0 && len(matched) > in.Limit {
		out.Items = matched[:in.Limit]
		key, err := t.Key(out.Items[len(out.Items)-1])
		if err != nil {
			return QueryOutput{}, err
		}
		if out.LastEvaluatedKey, err = metadata.EncodeItemKey(key); err != nil {
			return QueryOutput{}, err
		}
	}
	if out.Items == nil {
		out.Items = []metadata.Item{}
	}
	out.Count = len(out.Items)
	return out, nil
}

// skipThrough drops items up to and including the start key position in the
// current ordering.
func skipThrough(items []metadata.Item, start metadata.Item, rangeName string, forward bool) ([]metadata.Item, error) {
	sv, ok := start[rangeName]
	if !ok {
		return nil, apierr.InvalidArgument(apierr.Resource{Type: apierr.ResourceTable}, apierr.ReasonInvalidToken,
			"pagination token lacks the range key")
	}
	for i, item := range items {
		c, err := metadata.CompareKeyValues(item[rangeName], sv)
		if err != nil {
			return nil, apierr.InvalidArgument(apierr.Resource{Type: apierr.ResourceTable}, apierr.ReasonInvalidToken, "%v", err)
		}
		if (forward && c > 0) || (!forward && c < 0) {
			return items[i:], nil
		}
	}
	return nil, nil
}

type ScanInput struct {
	TableName         string `json:"TableName"`
	Limit             int    `json:"Limit,omitempty"`
	ExclusiveStartKey string `json:"ExclusiveStartKey,omitempty"`
}

type ScanOutput struct {
	Items            []metadata.Item `json:"Items"`
	Count            int             `json:"Count"`
	LastEvaluatedKey string          `json:"LastEvaluatedKey,omitempty"`
}

// Scan walks the whole table in storage order.
func (s *Service) Scan(ctx context.Context, in ScanInput) (ScanOutput, error) {
	if err := tableOnly(in.TableName); err != nil {
		return ScanOutput{}, err
	}
	if in.Limit < 0 {
		return ScanOutput{}, apierr.InvalidArgument(apierr.Resource{Type: apierr.ResourceTable, Name: in.TableName},
			apierr.ReasonMalformedInput, "limit must not be negative")
	}
	var start metadata.Item
	if in.ExclusiveStartKey != "" {
		var err error
		if start, err = metadata.DecodeItemKey(in.TableName, in.ExclusiveStartKey); err != nil {
			return ScanOutput{}, err
		}
	}
	items, last, err := s.catalog.ScanItems(in.TableName, start, in.Limit)
	if err != nil {
		return ScanOutput{}, err
	}
	if items == nil {
		items = []metadata.Item{}
	}
	out := ScanOutput{Items: items, Count: len(items)}
	if last != nil {
		if out.LastEvaluatedKey, err = metadata.EncodeItemKey(last); err != nil {
			return ScanOutput{}, err
		}
	}
	return out, nil
}
