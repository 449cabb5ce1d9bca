package nodeset

import (
	"testing"

	"github.com/shoenig/test/must"
)

func TestFormat(t *testing.T) {
	cases := []struct {
		name string
		ids  []int
		exp  string
	}{
		{"empty", nil, ""},
		{"single", []int{4}, "4"},
		{"run", []int{0, 1, 2, 3}, "0-3"},
		{"mixed", []int{0, 1, 2, 3, 7, 9, 10}, "0-3,7,9-10"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			must.Eq(t, tc.exp, Format(Of(16, tc.ids...)))
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	b, err := Parse(" 0-3, 7 ,9-10")
	must.NoError(t, err)
	must.Eq(t, []int{0, 1, 2, 3, 7, 9, 10}, Slice(b))
	must.Eq(t, "0-3,7,9-10", Format(b))
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"a", "3-1", "-2", "1-x"} {
		_, err := Parse(in)
		must.Error(t, err, must.Sprintf("input %q", in))
	}
}

func TestSubset(t *testing.T) {
	super := Of(8, 0, 1, 2, 3)
	must.True(t, Subset(Of(8, 1, 2), super))
	must.False(t, Subset(Of(8, 1, 5), super))
	must.True(t, Subset(nil, super))
	must.False(t, Subset(Of(8, 1), nil))
}

func TestFirstLast(t *testing.T) {
	b := Of(32, 5, 9, 20)
	first, ok := First(b)
	must.True(t, ok)
	must.Eq(t, 5, first)
	last, ok := Last(b)
	must.True(t, ok)
	must.Eq(t, 20, last)

	_, ok = Last(New(4))
	must.False(t, ok)
}
