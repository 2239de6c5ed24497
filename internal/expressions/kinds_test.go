package expressions

import (
	"context"
	"testing"

	"github.com/rendis/rulekit/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kindScope(t *testing.T) *Scope {
	t.Helper()
	s, err := NewScope(
		schema.Named("rest", restPeriod{SumaDescansos: 4200, Driver: "Ana"}),
		schema.Named("shift", map[string]any{"hours": 9, "stops": []any{"a", "b", "c"}}),
	)
	require.NoError(t, err)
	return s
}

func evalKind(t *testing.T, eng Engine, expression string) (bool, error) {
	t.Helper()
	prg, err := eng.Compile(expression)
	require.NoError(t, err, "compile %q", expression)
	assert.Equal(t, eng.Kind(), prg.Kind())
	assert.Equal(t, expression, prg.Source())
	return prg.Eval(context.Background(), kindScope(t))
}

// --- expr ---

func TestExprEngine_Eval(t *testing.T) {
	eng := NewExprEngine()

	tests := []struct {
		expr string
		want bool
	}{
		{"rest.SumaDescansos >= 4200", true},
		{"rest.SumaDescansos > 4200", false},
		{"shift.hours > 8 && rest.Driver == 'Ana'", true},
		{"len(shift.stops) == 3", true},
		{"'b' in shift.stops", true},
		{"all(shift.stops, {len(#) == 1})", true},
		{"unknown == nil", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := evalKind(t, eng, tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExprEngine_Symbols(t *testing.T) {
	prg, err := NewExprEngine().Compile("rest.SumaDescansos >= 4200 && shift.hours > rest.SumaDescansos")
	require.NoError(t, err)
	assert.Equal(t, []string{"rest", "shift"}, prg.Symbols())
}

func TestExprEngine_Errors(t *testing.T) {
	eng := NewExprEngine()

	for _, expr := range []string{"", "rest.SumaDescansos >=", "1 + 2"} {
		_, err := eng.Compile(expr)
		require.Error(t, err, expr)
		assert.True(t, schema.IsCode(err, schema.ErrCodeCompile), expr)
	}

	_, err := evalKind(t, eng, "rest.Driver")
	require.Error(t, err)
}

// --- cel ---

func TestCELEngine_Eval(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	tests := []struct {
		expr string
		want bool
	}{
		{"rest.suma_descansos >= 4200", true},
		{"rest.suma_descansos < 4200", false},
		{"shift.hours > 8 && rest.driver == 'Ana'", true},
		{"size(shift.stops) == 3", true},
		{"shift.stops.exists(s, s == 'c')", true},
		{"has(rest.license)", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := evalKind(t, eng, tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCELEngine_Errors(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	_, err = eng.Compile("rest.suma_descansos >=")
	assert.True(t, schema.IsCode(err, schema.ErrCodeCompile))

	_, err = eng.Compile("")
	assert.True(t, schema.IsCode(err, schema.ErrCodeCompile))

	_, err = evalKind(t, eng, "vehicle.plate == 'X'")
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecution))

	_, err = evalKind(t, eng, "shift.hours + 1")
	assert.True(t, schema.IsCode(err, schema.ErrCodeTypeMismatch))
}

// --- jq ---

func TestGoJQEngine_Eval(t *testing.T) {
	eng := NewGoJQEngine()

	tests := []struct {
		expr string
		want bool
	}{
		{".rest.suma_descansos >= 4200", true},
		{".rest.suma_descansos < 4200", false},
		{".shift.stops | length == 3", true},
		{".rest.driver", true},
		{".rest.license", false},
		{"empty", false},
		{".shift.stops[] | select(. == \"b\") | true", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := evalKind(t, eng, tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGoJQEngine_Errors(t *testing.T) {
	eng := NewGoJQEngine()

	_, err := eng.Compile(".[")
	assert.True(t, schema.IsCode(err, schema.ErrCodeCompile))

	_, err = eng.Compile("")
	assert.True(t, schema.IsCode(err, schema.ErrCodeCompile))

	_, err = evalKind(t, eng, `error("boom")`)
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecution))
}

func TestGoJQEngine_EnvIsSandboxed(t *testing.T) {
	t.Setenv("RULEKIT_SECRET", "x")
	got, err := evalKind(t, NewGoJQEngine(), `$ENV.RULEKIT_SECRET != null`)
	require.NoError(t, err)
	assert.False(t, got)
}
