package metadata

import (
	"strings"
	"testing"

	"github.com/eniz1806/CloudEmu/internal/apierr"
)

func newTestTable(t *testing.T, c *Catalog) Table {
	t.Helper()
	tbl, err := c.CreateTable(Table{
		Name:     "orders",
		HashKey:  KeyAttribute{Name: "customer", Type: KeyTypeString},
		RangeKey: &KeyAttribute{Name: "total", Type: KeyTypeNumber},
	})
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	return tbl
}

func order(customer, total string) Item {
	return Item{
		"customer": StringValue(customer),
		"total":    NumberValue(total),
	}
}

func TestTables_CRUD(t *testing.T) {
	c, _ := newTestCatalog(t)
	newTestTable(t, c)

	if _, err := c.CreateTable(Table{Name: "orders", HashKey: KeyAttribute{Name: "id", Type: KeyTypeString}}); !apierr.Is(err, apierr.KindAlreadyExists) {
		t.Errorf("expected AlreadyExists, got %v", err)
	}

	item := order("alice", "10")
	item["note"] = StringValue("first")
	if _, err := c.PutItem("orders", item, false); err != nil {
		t.Fatalf("PutItem: %v", err)
	}

	// 10.0 and 10 are the same key.
	got, err := c.GetItem("orders", order("alice", "10.0"))
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if *got["note"].S != "first" {
		t.Errorf("got %+v", got)
	}

	if _, err := c.PutItem("orders", order("alice", "10"), true); !apierr.IsReason(err, apierr.ReasonConditionalCheckFailed) {
		t.Errorf("expected ConditionalCheckFailed, got %v", err)
	}

	if err := c.DeleteTable("orders"); !apierr.IsReason(err, apierr.ReasonNotEmpty) {
		t.Errorf("expected NotEmpty, got %v", err)
	}

	old, err := c.DeleteItem("orders", order("alice", "10"))
	if err != nil || old == nil {
		t.Fatalf("DeleteItem: %v %v", old, err)
	}
	old, err = c.DeleteItem("orders", order("alice", "10"))
	if err != nil || old != nil {
		t.Errorf("deleting a missing item should be a no-op, got %v %v", old, err)
	}
	if _, err := c.GetItem("orders", order("alice", "10")); !apierr.Is(err, apierr.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}

	if err := c.DeleteTable("orders"); err != nil {
		t.Fatalf("DeleteTable: %v", err)
	}
}

func TestTables_KeyValidation(t *testing.T) {
	c, _ := newTestCatalog(t)
	newTestTable(t, c)

	_, err := c.PutItem("orders", Item{"customer": StringValue("bob")}, false)
	if !apierr.Is(err, apierr.KindInvalidArgument) {
		t.Errorf("missing range key: expected InvalidArgument, got %v", err)
	}
	_, err = c.PutItem("orders", Item{"customer": NumberValue("1"), "total": NumberValue("1")}, false)
	if !apierr.Is(err, apierr.KindInvalidArgument) {
		t.Errorf("wrong hash type: expected InvalidArgument, got %v", err)
	}
	_, err = c.PutItem("orders", order("bob", "not-a-number"), false)
	if !apierr.Is(err, apierr.KindInvalidArgument) {
		t.Errorf("bad number: expected InvalidArgument, got %v", err)
	}
}

func TestTables_QueryAndScan(t *testing.T) {
	c, _ := newTestCatalog(t)
	newTestTable(t, c)
	for _, it := range []Item{order("alice", "5"), order("alice", "30"), order("bob", "7"), order("alice", "12")} {
		if _, err := c.PutItem("orders", it, false); err != nil {
			t.Fatalf("PutItem: %v", err)
		}
	}

	_, items, err := c.QueryItems("orders", StringValue("alice"))
	if err != nil {
		t.Fatalf("QueryItems: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("expected 3 alice items, got %d", len(items))
	}

	n, _ := c.CountItems("orders")
	if n != 4 {
		t.Errorf("expected 4 items, got %d", n)
	}

	var scanned []Item
	var start Item
	for {
		page, last, err := c.ScanItems("orders", start, 3)
		if err != nil {
			t.Fatalf("ScanItems: %v", err)
		}
		scanned = append(scanned, page...)
		if last == nil {
			break
		}
		start = last
	}
	if len(scanned) != 4 {
		t.Errorf("expected 4 scanned items, got %d", len(scanned))
	}
}

func TestCompareKeyValues(t *testing.T) {
	tests := []struct {
		a, b AttributeValue
		want int
	}{
		{NumberValue("9"), NumberValue("10"), -1},
		{NumberValue("1e2"), NumberValue("100"), 0},
		{NumberValue("12345678901234567890"), NumberValue("12345678901234567891"), -1},
		{NumberValue("-0"), NumberValue("0.000"), 0},
		{StringValue("b"), StringValue("a"), 1},
		{BinaryValue([]byte{1}), BinaryValue([]byte{1, 0}), -1},
	}
	for _, tt := range tests {
		got, err := CompareKeyValues(tt.a, tt.b)
		if err != nil {
			t.Fatalf("CompareKeyValues: %v", err)
		}
		if got != tt.want {
			t.Errorf("compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
	if _, err := CompareKeyValues(StringValue("1"), NumberValue("1")); err == nil {
		t.Error("expected error comparing mixed types")
	}
}

func TestCanonicalNumber(t *testing.T) {
	same := [][2]string{
		{"10", "10.0"},
		{"1e2", "100"},
		{"-0", "0"},
		{"0.50", "5e-1"},
	}
	for _, pair := range same {
		a, err := CanonicalNumber(pair[0])
		if err != nil {
			t.Fatalf("CanonicalNumber(%q): %v", pair[0], err)
		}
		b, err := CanonicalNumber(pair[1])
		if err != nil {
			t.Fatalf("CanonicalNumber(%q): %v", pair[1], err)
		}
		if a != b {
			t.Errorf("%q and %q should canonicalize alike, got %q and %q", pair[0], pair[1], a, b)
		}
	}

	a, _ := CanonicalNumber("12345678901234567890")
	b, _ := CanonicalNumber("12345678901234567891")
	if a == b {
		t.Errorf("distinct 20 digit numbers collided as %q", a)
	}

	for _, bad := range []string{"", "abc", "NaN", "Inf", "-Infinity", "1" + strings.Repeat("0", 38) + "1"} {
		if _, err := CanonicalNumber(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestTables_LargeNumberKeysDistinct(t *testing.T) {
	c, _ := newTestCatalog(t)
	if _, err := c.CreateTable(Table{
		Name:    "ids",
		HashKey: KeyAttribute{Name: "id", Type: KeyTypeNumber},
	}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	for _, id := range []string{"12345678901234567890", "12345678901234567891"} {
		if _, err := c.PutItem("ids", Item{"id": NumberValue(id)}, true); err != nil {
			t.Fatalf("PutItem(%s): %v", id, err)
		}
	}
	n, err := c.CountItems("ids")
	if err != nil {
		t.Fatalf("CountItems: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 items, got %d", n)
	}
}

func TestItemKeyToken(t *testing.T) {
	tok, err := EncodeItemKey(order("alice", "5"))
	if err != nil {
		t.Fatalf("EncodeItemKey: %v", err)
	}
	key, err := DecodeItemKey("orders", tok)
	if err != nil || *key["customer"].S != "alice" {
		t.Fatalf("DecodeItemKey: %v %v", key, err)
	}
	if _, err := DecodeItemKey("orders", "%%%"); !apierr.IsReason(err, apierr.ReasonInvalidToken) {
		t.Errorf("expected InvalidToken, got %v", err)
	}
}
