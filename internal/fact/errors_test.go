package fact

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dalton/internal/ir"
)

func TestUniqueConflictRoundTrip(t *testing.T) {
	se := UniqueConflictError("blog.post/slug", ir.String("hello"), 17, 18)
	assert.Equal(t,
		`:db.error/unique-conflict Unique conflict: :blog.post/slug, value: "hello" already held by: 17 asserted for: 18`,
		se.Error())

	uc, err := ParseUniqueConflict(se.Error())
	require.NoError(t, err)
	assert.Equal(t, ir.Keyword("blog.post/slug"), uc.Attribute)
	assert.Equal(t, `"hello"`, uc.Value)
	assert.Equal(t, ir.EntityID(17), uc.ExistingID)
	assert.Equal(t, ir.EntityID(18), uc.NewID)
}

func TestWrongTypeRoundTrip(t *testing.T) {
	se := WrongTypeError("blog.post/views", ir.String("many"), "long")
	assert.Equal(t,
		`:db.error/wrong-type-for-attribute Value "many" is not a valid :long for attribute :blog.post/views`,
		se.Error())

	wt, err := ParseWrongType(se.Error())
	require.NoError(t, err)
	assert.Equal(t, `"many"`, wt.Value)
	assert.Equal(t, "long", wt.Type)
	assert.Equal(t, ir.Keyword("blog.post/views"), wt.Attribute)
}

func TestParseAcceptsDigitBearingIdents(t *testing.T) {
	attrs := []ir.Keyword{
		"blog.user2/email",
		"blog.order/line1",
		"shop.order-line2/sku-v2",
	}
	for _, attr := range attrs {
		t.Run(string(attr), func(t *testing.T) {
			uc, err := ParseUniqueConflict(UniqueConflictError(attr, ir.String("a@b"), 3, 4).Error())
			require.NoError(t, err)
			assert.Equal(t, attr, uc.Attribute)
			assert.Equal(t, `"a@b"`, uc.Value)

			wt, err := ParseWrongType(WrongTypeError(attr, ir.Long(7), "string").Error())
			require.NoError(t, err)
			assert.Equal(t, attr, wt.Attribute)
			assert.Equal(t, "7", wt.Value)
		})
	}
}

func TestParseStoreErrorPrefersAttachedCause(t *testing.T) {
	se := UniqueConflictError("blog.user2/email", ir.String("a@b"), 3, 4)
	cause, ok, err := ParseStoreError(se)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, &UniqueConflict{
		Attribute:  "blog.user2/email",
		Value:      `"a@b"`,
		ExistingID: 3,
		NewID:      4,
	}, cause)

	se = WrongTypeError("blog.order/line1", ir.Bool(true), "long")
	cause, ok, err = ParseStoreError(se)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, &WrongType{Value: "true", Type: "long", Attribute: "blog.order/line1"}, cause)

	// Without a cause the message text is parsed.
	bare := &StoreError{Code: ErrUniqueConflict, Message: se.Message}
	_, ok, err = ParseStoreError(bare)
	assert.Error(t, err)
	assert.False(t, ok)

	bare = &StoreError{
		Code:    ErrUniqueConflict,
		Message: "Unique conflict: :blog.user2/email, value: \"a@b\" already held by: 3 asserted for: 4",
	}
	cause, ok, err = ParseStoreError(bare)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.Keyword("blog.user2/email"), cause.(*UniqueConflict).Attribute)
}

func TestParseRejectsOtherText(t *testing.T) {
	_, err := ParseUniqueConflict("something else")
	assert.Error(t, err)
	_, err = ParseWrongType(":db.error/unique-conflict Unique conflict")
	assert.Error(t, err)
}

func TestParseStoreError(t *testing.T) {
	tests := []struct {
		name string
		err  *StoreError
		ok   bool
		want any
	}{
		{"unique", UniqueConflictError("a.b/c", ir.Long(1), 1, 2), true, &UniqueConflict{}},
		{"wrong type", WrongTypeError("a.b/c", ir.Bool(true), "string"), true, &WrongType{}},
		{"not an attribute", &StoreError{Code: ErrNotAnAttribute, Message: ":a.b/c is not an attribute"}, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cause, ok, err := ParseStoreError(tt.err)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			if tt.want != nil {
				assert.IsType(t, tt.want, cause)
			}
		})
	}
}

func TestStoreErrorCode(t *testing.T) {
	wrapped := fmt.Errorf("transact: %w", &StoreError{Code: ErrDatomsConflict, Message: "x"})
	code, ok := StoreErrorCode(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrDatomsConflict, code)

	_, ok = StoreErrorCode(errors.New("plain"))
	assert.False(t, ok)
}

func TestTransactionFailedUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("commit: %w", &TransactionFailed{Cause: cause})
	assert.True(t, IsTransactionFailed(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsTransactionFailed(cause))
}
