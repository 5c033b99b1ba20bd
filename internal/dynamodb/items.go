package dynamodb

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/eniz1806/CloudEmu/internal/apierr"
	"github.com/eniz1806/CloudEmu/internal/metadata"
)

// MaxItemSize bounds the encoded size of a stored item.
const MaxItemSize = 400 << 10

const (
	ReturnNone   = "NONE"
	ReturnAllOld = "ALL_OLD"
)

// validateItem checks every attribute holds exactly one well-formed value.
func validateItem(table string, item metadata.Item) error {
	res := apierr.Resource{Type: apierr.ResourceItem, Container: table}
	for name, v := range item {
		if name == "" {
			return apierr.InvalidArgument(res, apierr.ReasonMalformedInput, "attribute names must not be empty")
		}
		if err := validateValue(v); err != nil {
			return apierr.InvalidArgument(res, apierr.ReasonMalformedInput, "attribute %q: %v", name, err)
		}
	}
	data, err := json.Marshal(item)
	if err != nil {
		return apierr.InvalidArgument(res, apierr.ReasonMalformedInput, "item cannot be encoded: %v", err)
	}
	if len(data) > MaxItemSize {
		return apierr.InvalidArgument(res, apierr.ReasonMalformedInput, "item size exceeds %d bytes", MaxItemSize)
	}
	return nil
}

var errValueType = errors.New("exactly one value type must be set")

func validateValue(v metadata.AttributeValue) error {
	set := 0
	if v.S != nil {
		set++
	}
	if v.N != nil {
		set++
		if _, err := metadata.CanonicalNumber(*v.N); err != nil {
			return err
		}
	}
	if v.B != nil {
		set++
	}
	if v.BOOL != nil {
		set++
	}
	if v.NULL != nil {
		set++
	}
	if v.SS != nil {
		set++
	}
	if v.NS != nil {
		set++
		for _, n := range v.NS {
			if _, err := metadata.CanonicalNumber(n); err != nil {
				return err
			}
		}
	}
	if v.BS != nil {
		set++
	}
	if v.L != nil {
		set++
		for _, e := range v.L {
			if err := validateValue(e); err != nil {
				return err
			}
		}
	}
	if v.M != nil {
		set++
		for _, e := range v.M {
			if err := validateValue(e); err != nil {
				return err
			}
		}
	}
	if set != 1 {
		return errValueType
	}
	return nil
}

type PutItemInput struct {
	TableName string        `json:"TableName"`
	Item      metadata.Item `json:"Item"`

	// IfNotExists fails the write when an item with the same primary key
	// is already stored.
	IfNotExists  bool   `json:"IfNotExists,omitempty"`
	ReturnValues string `json:"ReturnValues,omitempty"`
}

type PutItemOutput struct {
	Attributes metadata.Item `json:"Attributes,omitempty"`
}

func (s *Service) PutItem(ctx context.Context, in PutItemInput) (PutItemOutput, error) {
	if err := tableOnly(in.TableName); err != nil {
		return PutItemOutput{}, err
	}
	if err := validateItem(in.TableName, in.Item); err != nil {
		return PutItemOutput{}, err
	}
	old, err := s.catalog.PutItem(in.TableName, in.Item, in.IfNotExists)
	if err != nil {
		return PutItemOutput{}, err
	}
	if in.ReturnValues == ReturnAllOld {
		return PutItemOutput{Attributes: old}, nil
	}
	return PutItemOutput{}, nil
}

type GetItemInput struct {
	TableName string        `json:"TableName"`
	Key       metadata.Item `json:"Key"`
}

// GetItemOutput carries no Item when the key is not stored.
type GetItemOutput struct {
	Item metadata.Item `json:"Item,omitempty"`
}

func (s *Service) GetItem(ctx context.Context, in GetItemInput) (GetItemOutput, error) {
	if err := tableOnly(in.TableName); err != nil {
		return GetItemOutput{}, err
	}
	item, err := s.catalog.GetItem(in.TableName, in.Key)
	if err != nil {
		if ae, ok := apierr.As(err); ok && ae.Kind == apierr.KindNotFound && ae.Resource.Type == apierr.ResourceItem {
			return GetItemOutput{}, nil
		}
		return GetItemOutput{}, err
	}
	return GetItemOutput{Item: item}, nil
}

type DeleteItemInput struct {
	TableName    string        `json:"TableName"`
	Key          metadata.Item `json:"Key"`
	ReturnValues string        `json:"ReturnValues,omitempty"`
}

type DeleteItemOutput struct {
	Attributes metadata.Item `json:"Attributes,omitempty"`
}

func (s *Service) DeleteItem(ctx context.Context, in DeleteItemInput) (DeleteItemOutput, error) {
	if err := tableOnly(in.TableName); err != nil {
		return DeleteItemOutput{}, err
	}
	old, err := s.catalog.DeleteItem(in.TableName, in.Key)
	if err != nil {
		return DeleteItemOutput{}, err
	}
	if in.ReturnValues == ReturnAllOld {
		return DeleteItemOutput{Attributes: old}, nil
	}
	return DeleteItemOutput{}, nil
}
