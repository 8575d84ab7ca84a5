/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package shapes

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeAndString(t *testing.T) {
	s := Make(dtypes.Float32, 2, 4)
	assert.Equal(t, 2, s.Rank())
	assert.Equal(t, 8, s.Size())
	assert.Equal(t, "(Float32)[2 4]", s.String())
	assert.Equal(t, 4, s.Dim(-1))
	assert.Equal(t, 2, s.Dim(0))

	scalar := Make(dtypes.Float64)
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, "(Float64)", scalar.String())

	exception := exceptions.Try(func() { _ = Make(dtypes.Float32, 0, 3) })
	require.NotNil(t, exception, "Make with a zero dimension must panic")
}

func TestScalar(t *testing.T) {
	s := Scalar[float32]()
	assert.True(t, s.IsScalar())
	assert.Equal(t, dtypes.Float32, s.DType)
	assert.Equal(t, 0, s.Rank())
}

func TestEqual(t *testing.T) {
	assert.True(t, Make(dtypes.Float32, 2, 4).Equal(Make(dtypes.Float32, 2, 4)))
	assert.False(t, Make(dtypes.Float32, 2, 4).Equal(Make(dtypes.Float32, 4, 2)))
	assert.False(t, Make(dtypes.Float32, 2, 4).Equal(Make(dtypes.Float64, 2, 4)))
	assert.True(t, Make(dtypes.Int32).Equal(Make(dtypes.Int32)))
}

func TestTuple(t *testing.T) {
	tuple := MakeTuple([]Shape{Make(dtypes.Float32, 3), Make(dtypes.Float32)})
	assert.True(t, tuple.IsTuple())
	assert.False(t, tuple.IsScalar())
	assert.Equal(t, 2, tuple.TupleSize())
	assert.Equal(t, "Tuple<(Float32)[3], (Float32)>", tuple.String())

	clone := tuple.Clone()
	assert.True(t, tuple.Equal(clone))
}

func TestInvalid(t *testing.T) {
	assert.False(t, Invalid().Ok())
	assert.False(t, Shape{}.Ok())
	assert.False(t, Invalid().IsScalar())
}
