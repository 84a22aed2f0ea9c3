package pagination

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Params
		want Params
	}{
		{name: "defaults", in: Params{}, want: Params{Offset: 0, Limit: DefaultLimit}},
		{name: "negative offset", in: Params{Offset: -5, Limit: 10}, want: Params{Offset: 0, Limit: 10}},
		{name: "limit capped", in: Params{Offset: 3, Limit: MaxLimit + 1}, want: Params{Offset: 3, Limit: MaxLimit}},
		{name: "negative limit", in: Params{Limit: -1}, want: Params{Limit: DefaultLimit}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.in.Normalize(); got != tc.want {
				t.Fatalf("Normalize(%+v) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}
