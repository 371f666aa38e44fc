package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"005930":     "005930",
		"A005930":    "005930",
		"A005930_NX": "005930",
		"005930_AL":  "005930",
		" A005930 ":  "005930",
		"":           "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}
