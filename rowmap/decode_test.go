package rowmap

import (
	"testing"

	"github.com/usub-dev/usubpg/wire"
)

func strp(s string) *string { return &s }

func TestDecodeNamed(t *testing.T) {
	type User struct {
		ID   int64
		Name string
	}
	cols := []wire.ColumnDescriptor{{Name: "id"}, {Name: "name"}}
	row := wire.Row{strp("1"), strp("John")}

	var u User
	if err := DecodeNamed(row, cols, &u); err != nil {
		t.Fatal(err)
	}
	if u.ID != 1 || u.Name != "John" {
		t.Fatalf("unexpected decode: %+v", u)
	}
}

func TestDecodeNamedMissingField(t *testing.T) {
	type User struct {
		ID      int64
		Missing string
	}
	cols := []wire.ColumnDescriptor{{Name: "id"}}
	row := wire.Row{strp("1")}

	var u User
	err := DecodeNamed(row, cols, &u)
	if err == nil {
		t.Fatal("expected error for missing field")
	}
}

func TestDecodeRowFallsBackToPositional(t *testing.T) {
	type Pair struct {
		A string
		B string
	}
	cols := []wire.ColumnDescriptor{{Name: "x"}, {Name: "y"}}
	row := wire.Row{strp("1"), strp("2")}

	var p Pair
	if err := DecodeRow(row, cols, &p); err != nil {
		t.Fatal(err)
	}
	if p.A != "1" || p.B != "2" {
		t.Fatalf("unexpected positional decode: %+v", p)
	}
}

func TestDecodeNull(t *testing.T) {
	type Row struct {
		Name *string
	}
	cols := []wire.ColumnDescriptor{{Name: "name"}}
	row := wire.Row{nil}

	var r Row
	if err := DecodeNamed(row, cols, &r); err != nil {
		t.Fatal(err)
	}
	if r.Name != nil {
		t.Fatalf("expected nil optional, got %v", *r.Name)
	}
}

func TestDecodeArray(t *testing.T) {
	type Row struct {
		Nums []int32
	}
	cols := []wire.ColumnDescriptor{{Name: "nums"}}
	row := wire.Row{strp("{1,2,3}")}

	var r Row
	if err := DecodeNamed(row, cols, &r); err != nil {
		t.Fatal(err)
	}
	if len(r.Nums) != 3 || r.Nums[0] != 1 || r.Nums[2] != 3 {
		t.Fatalf("unexpected array decode: %v", r.Nums)
	}
}

func TestDecodeArrayWithQuotesAndNull(t *testing.T) {
	type Row struct {
		Names []*string
	}
	cols := []wire.ColumnDescriptor{{Name: "names"}}
	row := wire.Row{strp(`{"a,b","say ""hi""",NULL}`)}

	var r Row
	if err := DecodeNamed(row, cols, &r); err != nil {
		t.Fatal(err)
	}
	if len(r.Names) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(r.Names))
	}
	if *r.Names[0] != "a,b" || *r.Names[1] != `say "hi"` || r.Names[2] != nil {
		t.Fatalf("unexpected decode: %q %q %v", *r.Names[0], *r.Names[1], r.Names[2])
	}
}

func TestParseArrayLiteralRequiresBraces(t *testing.T) {
	if _, err := ParseArrayLiteral("1,2,3"); err == nil {
		t.Fatal("expected error for missing braces")
	}
}
