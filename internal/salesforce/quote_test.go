package salesforce

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSOQLQuote(t *testing.T) {
	require.Equal(t, `'0064R00000ABCDE'`, soqlQuote("0064R00000ABCDE"))
	require.Equal(t, `'O\'Brien'`, soqlQuote("O'Brien"))
	require.Equal(t, `'a\\b'`, soqlQuote(`a\b`))
}
