package streamtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqualLeftInRight(t *testing.T) {
	left := New(MetaPlain, Property{Name: "datatype", Type: "tCustom", Value: "tFloat"})
	right := New(MetaPlain,
		Property{Name: "datatype", Type: "tCustom", Value: "tFloat"},
		Property{Name: "version", Type: "tUInt32", Value: "1"},
	)

	assert.True(t, left.Equal(right), "left's properties are a subset of right's, with equal values")
	assert.False(t, right.Equal(left), "right has a property left does not mention")
}

func TestEqualMetaTypeMismatch(t *testing.T) {
	a := New(MetaPlain)
	b := New(MetaDDL)
	assert.False(t, a.Equal(b))
}

func TestEqualValueMismatch(t *testing.T) {
	a := New(MetaPlain, Property{Name: "datatype", Value: "tFloat"})
	b := New(MetaPlain, Property{Name: "datatype", Value: "tInt32"})
	assert.False(t, a.Equal(b))
}

func TestRoundTrip(t *testing.T) {
	st := New(MetaDDL,
		Property{Name: "struct", Type: "tString", Value: "tPosition"},
		Property{Name: "version", Type: "tUInt32", Value: "2"},
	)

	data := st.Marshal()
	got, err := Unmarshal(data)
	require.NoError(t, err)

	assert.True(t, st.Equal(got))
	assert.True(t, got.Equal(st))
	assert.Equal(t, st.MetaType, got.MetaType)
	assert.Equal(t, st.Properties, got.Properties)
}

func TestGet(t *testing.T) {
	st := New(MetaPlain, Property{Name: "datatype", Value: "tFloat"})
	p, ok := st.Get("datatype")
	require.True(t, ok)
	assert.Equal(t, "tFloat", p.Value)

	_, ok = st.Get("missing")
	assert.False(t, ok)
}
