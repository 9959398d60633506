package memgraph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPropertyValueTypeMismatch(t *testing.T) {
	value := IntValue(7)

	_, err := value.Bool()
	require.ErrorIs(t, err, ErrTypeMismatch)
	_, err = value.String()
	require.ErrorIs(t, err, ErrTypeMismatch)

	number, err := value.Int()
	require.NoError(t, err)
	require.EqualValues(t, 7, number)

	require.True(t, NullValue().IsNull())
	require.False(t, value.IsNull())
}

func TestPropertyValueEquality(t *testing.T) {
	require.True(t, IntValue(1).Equal(IntValue(1)))
	require.False(t, IntValue(1).Equal(IntValue(2)))
	require.False(t, IntValue(1).Equal(DoubleValue(1)))
	require.True(t, NullValue().Equal(NullValue()))

	list := ListValue([]PropertyValue{IntValue(1), StringValue("a")})
	require.True(t, list.Equal(ListValue([]PropertyValue{IntValue(1), StringValue("a")})))
	require.False(t, list.Equal(ListValue([]PropertyValue{IntValue(1)})))

	mapped := MapValue(map[string]PropertyValue{"k": BoolValue(true)})
	require.True(t, mapped.Equal(MapValue(map[string]PropertyValue{"k": BoolValue(true)})))
	require.False(t, mapped.Equal(MapValue(map[string]PropertyValue{"k": BoolValue(false)})))
}

func TestPropertyValueWireRoundtrip(t *testing.T) {
	// One nested value covers every kind at once.
	value := MapValue(map[string]PropertyValue{
		"null":   NullValue(),
		"bool":   BoolValue(true),
		"int":    IntValue(-12),
		"double": DoubleValue(2.5),
		"string": StringValue("text"),
		"list":   ListValue([]PropertyValue{IntValue(1), NullValue()}),
	})

	decoded, consumed, err := unmarshalPropertyValue(value.marshal())
	require.NoError(t, err)
	require.Equal(t, len(value.marshal()), consumed)
	require.True(t, value.Equal(decoded))
}

func TestPropertyValueTruncatedPayload(t *testing.T) {
	encoded := StringValue("hello").marshal()
	_, _, err := unmarshalPropertyValue(encoded[:3])
	require.Error(t, err)

	_, _, err = unmarshalPropertyValue(nil)
	require.Error(t, err)
}
