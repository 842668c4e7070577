package sqlbuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteIdentifier_Valid(t *testing.T) {
	q, err := QuoteIdentifier("users")
	require.NoError(t, err)
	assert.Equal(t, `"users"`, q)
}

func TestQuoteIdentifier_EscapesEmbeddedQuote(t *testing.T) {
	q, err := QuoteIdentifier(`weird"col`)
	require.NoError(t, err)
	assert.Equal(t, `"weird""col"`, q)
}

func TestQuoteIdentifier_RejectsSQLInjectionAttempt(t *testing.T) {
	_, err := QuoteIdentifier(`users; DROP TABLE users;--`)
	assert.Error(t, err)
}

func TestQuoteIdentifier_RejectsEmpty(t *testing.T) {
	_, err := QuoteIdentifier("")
	assert.Error(t, err)
}

func TestQuoteQualified_BothSegmentsValidated(t *testing.T) {
	q, err := QuoteQualified("public", "users")
	require.NoError(t, err)
	assert.Equal(t, `"public"."users"`, q)

	_, err = QuoteQualified("public; --", "users")
	assert.Error(t, err)
}
