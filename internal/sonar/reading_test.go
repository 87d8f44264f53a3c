package sonar

import (
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Filter(t *testing.T) {
	tests := []struct {
		value float64
		keep  bool
	}{
		{NoEcho, false},
		{-0.5, false},
		{0, false},
		{0.001, true},
		{30, true},
		{59.999, true},
		{60, false},
		{61, false},
		{math.Inf(1), false},
		{math.NaN(), false},
	}

	for _, tt := range tests {
		t.Run(strconv.FormatFloat(tt.value, 'g', -1, 64), func(t *testing.T) {
			for _, s := range Sensors {
				raw := RawReading{-1, -1, -1}
				raw[s] = tt.value
				v := Validate(raw, testMaxDistance)

				d, ok := v.Distance(s)
				assert.Equal(t, tt.keep, ok)
				if tt.keep {
					assert.Equal(t, tt.value, d, "values are kept as-is, never clamped")
					assert.Equal(t, 1, v.Len())
				} else {
					assert.Equal(t, 0, v.Len())
				}
			}
		})
	}
}

func TestValidate_PreservesSensorOrder(t *testing.T) {
	v := Validate(RawReading{12, 70, 9}, testMaxDistance)

	assert.Equal(t, []Sample{
		{Sensor: Left, Distance: 12},
		{Sensor: Right, Distance: 9},
	}, v.Samples())
	assert.Equal(t, SubsetLeftRight, v.Subset())
}

func TestValidatedReading_SamplesIsACopy(t *testing.T) {
	v := Validate(RawReading{12, 14, 9}, testMaxDistance)
	samples := v.Samples()
	samples[0].Distance = 999

	d, _ := v.Distance(Left)
	assert.Equal(t, 12.0, d)
}

func TestNewRawReading_Shape(t *testing.T) {
	r, err := NewRawReading([]float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, RawReading{1, 2, 3}, r)

	for _, values := range [][]float64{nil, {25, 30}, {1, 2, 3, 4}} {
		_, err := NewRawReading(values)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrShape))

		var shapeErr *ShapeError
		require.True(t, errors.As(err, &shapeErr))
		assert.Equal(t, len(values), shapeErr.Got)
	}
}

func TestParseReading(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    RawReading
		wantErr error
	}{
		{name: "three distances", line: "18,20,22", want: RawReading{18, 20, 22}},
		{name: "decimal values", line: "18.5,20.25,-1", want: RawReading{18.5, 20.25, -1}},
		{name: "line ending and padding", line: " 18 , 20 ,22\r\n", want: RawReading{18, 20, 22}},
		{name: "empty field is no echo", line: ",20,", want: RawReading{NoEcho, 20, NoEcho}},
		{name: "two values", line: "25,30", wantErr: ErrShape},
		{name: "four values", line: "1,2,3,4", wantErr: ErrShape},
		{name: "empty line", line: "", wantErr: ErrShape},
		{name: "garbage token", line: "18,abc,22", wantErr: ErrParse},
		{name: "garbage before shape check", line: "x,1", wantErr: ErrParse},
		{name: "nan token", line: "nan,20,-1", wantErr: ErrParse},
		{name: "inf token", line: "inf,20,-1", wantErr: ErrParse},
		{name: "signed infinity", line: "18,20,-Infinity", wantErr: ErrParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReading(tt.line)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseReading_ParseErrorDetail(t *testing.T) {
	_, err := ParseReading("18,abc,22")

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, 1, parseErr.Index)
	assert.Equal(t, "abc", parseErr.Token)
	assert.True(t, errors.Is(err, strconv.ErrSyntax))
}

func TestRawReading_StringRoundTrip(t *testing.T) {
	raw := RawReading{18.5, -1, 22}
	assert.Equal(t, "18.5,-1,22", raw.String())

	parsed, err := ParseReading(raw.String())
	require.NoError(t, err)
	assert.Equal(t, raw, parsed)
}

func TestSensorGeometry(t *testing.T) {
	g, err := NewSensorGeometry(5)
	require.NoError(t, err)

	assert.Equal(t, 5.0, g.Spacing())
	assert.Equal(t, -5.0, g.X(Left))
	assert.Equal(t, 0.0, g.X(Center))
	assert.Equal(t, 5.0, g.X(Right))
	assert.Equal(t, [SensorCount]Position{{X: -5}, {X: 0}, {X: 5}}, g.Positions())

	_, err = NewSensorGeometry(-2)
	assert.Error(t, err)
}
