// Package dynamodb implements the key-value table service on top of the
// metadata catalog.
package dynamodb

import (
	"context"
	"regexp"
	"time"

	"github.com/eniz1806/CloudEmu/internal/apierr"
	"github.com/eniz1806/CloudEmu/internal/metadata"
)

// Catalog is the slice of the metadata catalog the table service uses.
type Catalog interface {
	CreateTable(t metadata.Table) (metadata.Table, error)
	GetTable(name string) (metadata.Table, error)
	ListTables() ([]metadata.Table, error)
	DeleteTable(name string) error
	CountItems(name string) (int64, error)

	PutItem(table string, item metadata.Item, ifNotExists bool) (metadata.Item, error)
	GetItem(table string, key metadata.Item) (metadata.Item, error)
	DeleteItem(table string, key metadata.Item) (metadata.Item, error)
	QueryItems(table string, hashValue metadata.AttributeValue) (metadata.Table, []metadata.Item, error)
	ScanItems(table string, exclusiveStart metadata.Item, limit int) ([]metadata.Item, metadata.Item, error)
}

type Service struct {
	catalog Catalog
}

func NewService(catalog Catalog) *Service {
	return &Service{catalog: catalog}
}

const (
	KeyTypeHash  = "HASH"
	KeyTypeRange = "RANGE"

	TableStatusActive = "ACTIVE"
)

var tableNameRe = regexp.MustCompile(`^[a-zA-Z0-9_.\-]{3,255}$`)

func validateTableName(name string) error {
	if !tableNameRe.MatchString(name) {
		return apierr.InvalidArgument(apierr.Resource{Type: apierr.ResourceTable, Name: name}, apierr.ReasonInvalidName,
			"table name must be 3-255 characters of letters, digits, '_', '-' and '.'")
	}
	return nil
}

// tableOnly reports malformed names as missing tables; they cannot exist.
func tableOnly(name string) error {
	if validateTableName(name) != nil {
		return apierr.NotFound(apierr.Resource{Type: apierr.ResourceTable, Name: name}, "table does not exist")
	}
	return nil
}

type KeySchemaElement struct {
	AttributeName string `json:"AttributeName"`
	KeyType       string `json:"KeyType"`
}

type AttributeDefinition struct {
	AttributeName string `json:"AttributeName"`
	AttributeType string `json:"AttributeType"`
}

type TableDescription struct {
	TableName            string                `json:"TableName"`
	KeySchema            []KeySchemaElement    `json:"KeySchema"`
	AttributeDefinitions []AttributeDefinition `json:"AttributeDefinitions"`
	TableStatus          string                `json:"TableStatus"`
	ItemCount            int64                 `json:"ItemCount"`
	CreationDateTime     time.Time             `json:"CreationDateTime"`
}

func describe(t metadata.Table, count int64) TableDescription {
	d := TableDescription{
		TableName:   t.Name,
		KeySchema:   []KeySchemaElement{{AttributeName: t.HashKey.Name, KeyType: KeyTypeHash}},
		TableStatus: TableStatusActive,
		ItemCount:   count,
		AttributeDefinitions: []AttributeDefinition{
			{AttributeName: t.HashKey.Name, AttributeType: string(t.HashKey.Type)},
		},
		CreationDateTime: t.CreatedAt,
	}
	if t.RangeKey != nil {
		d.KeySchema = append(d.KeySchema, KeySchemaElement{AttributeName: t.RangeKey.Name, KeyType: KeyTypeRange})
		d.AttributeDefinitions = append(d.AttributeDefinitions,
			AttributeDefinition{AttributeName: t.RangeKey.Name, AttributeType: string(t.RangeKey.Type)})
	}
	return d
}

type CreateTableInput struct {
	TableName            string                `json:"TableName"`
	KeySchema            []KeySchemaElement    `json:"KeySchema"`
	AttributeDefinitions []AttributeDefinition `json:"AttributeDefinitions"`
}

type CreateTableOutput struct {
	TableDescription TableDescription `json:"TableDescription"`
}

func (s *Service) CreateTable(ctx context.Context, in CreateTableInput) (CreateTableOutput, error) {
	if err := validateTableName(in.TableName); err != nil {
		return CreateTableOutput{}, err
	}
	t, err := tableFromSchema(in)
	if err != nil {
		return CreateTableOutput{}, err
	}
	t, err = s.catalog.CreateTable(t)
	if err != nil {
		return CreateTableOutput{}, err
	}
	return CreateTableOutput{TableDescription: describe(t, 0)}, nil
}

// tableFromSchema resolves the key schema against the attribute
// definitions. Exactly one HASH key is required and at most one RANGE key.
func tableFromSchema(in CreateTableInput) (metadata.Table, error) {
	res := apierr.Resource{Type: apierr.ResourceTable, Name: in.TableName}
	types := make(map[string]metadata.KeyType, len(in.AttributeDefinitions))
	for _, d := range in.AttributeDefinitions {
		kt := metadata.KeyType(d.AttributeType)
		if !kt.Valid() {
			return metadata.Table{}, apierr.InvalidArgument(res, apierr.ReasonMalformedInput,
				"attribute %q has unsupported type %q", d.AttributeName, d.AttributeType)
		}
		types[d.AttributeName] = kt
	}

	t := metadata.Table{Name: in.TableName}
	var hashSet bool
	for _, k := range in.KeySchema {
		kt, ok := types[k.AttributeName]
		if !ok {
			return metadata.Table{}, apierr.InvalidArgument(res, apierr.ReasonMalformedInput,
				"key attribute %q has no definition", k.AttributeName)
		}
		attr := metadata.KeyAttribute{Name: k.AttributeName, Type: kt}
		switch k.KeyType {
		case KeyTypeHash:
			if hashSet {
				return metadata.Table{}, apierr.InvalidArgument(res, apierr.ReasonMalformedInput, "only one HASH key is allowed")
			}
			t.HashKey, hashSet = attr, true
		case KeyTypeRange:
			if t.RangeKey != nil {
				return metadata.Table{}, apierr.InvalidArgument(res, apierr.ReasonMalformedInput, "only one RANGE key is allowed")
			}
			t.RangeKey = &attr
		default:
			return metadata.Table{}, apierr.InvalidArgument(res, apierr.ReasonMalformedInput,
				"key type must be HASH or RANGE, got %q", k.KeyType)
		}
	}
	if !hashSet {
		return metadata.Table{}, apierr.InvalidArgument(res, apierr.ReasonMalformedInput, "key schema requires a HASH key")
	}
	if t.RangeKey != nil && t.RangeKey.Name == t.HashKey.Name {
		return metadata.Table{}, apierr.InvalidArgument(res, apierr.ReasonMalformedInput, "HASH and RANGE keys must differ")
	}
	return t, nil
}

type DeleteTableInput struct {
	TableName string `json:"TableName"`
}

type DeleteTableOutput struct {
	TableDescription TableDescription `json:"TableDescription"`
}

func (s *Service) DeleteTable(ctx context.Context, in DeleteTableInput) (DeleteTableOutput, error) {
	if err := tableOnly(in.TableName); err != nil {
		return DeleteTableOutput{}, err
	}
	t, err := s.catalog.GetTable(in.TableName)
	if err != nil {
		return DeleteTableOutput{}, err
	}
	if err := s.catalog.DeleteTable(in.TableName); err != nil {
		return DeleteTableOutput{}, err
	}
	return DeleteTableOutput{TableDescription: describe(t, 0)}, nil
}

type DescribeTableInput struct {
	TableName string `json:"TableName"`
}

type DescribeTableOutput struct {
	Table TableDescription `json:"Table"`
}

func (s *Service) DescribeTable(ctx context.Context, in DescribeTableInput) (DescribeTableOutput, error) {
	if err := tableOnly(in.TableName); err != nil {
		return DescribeTableOutput{}, err
	}
	t, err := s.catalog.GetTable(in.TableName)
	if err != nil {
		return DescribeTableOutput{}, err
	}
	n, err := s.catalog.CountItems(in.TableName)
	if err != nil {
		return DescribeTableOutput{}, err
	}
	return DescribeTableOutput{Table: describe(t, n)}, nil
}

type ListTablesInput struct{}

type ListTablesOutput struct {
	TableNames []string `json:"TableNames"`
}

func (s *Service) ListTables(ctx context.Context, in ListTablesInput) (ListTablesOutput, error) {
	tables, err := s.catalog.ListTables()
	if err != nil {
		return ListTablesOutput{}, err
	}
	out := ListTablesOutput{TableNames: make([]string, 0, len(tables))}
	for _, t := range tables {
		out.TableNames = append(out.TableNames, t.Name)
	}
	return out, nil
}
