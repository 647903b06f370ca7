package models

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateLandedCost(t *testing.T) {
	tests := []struct {
		name      string
		lines     []LandedCostLine
		costs     VariableCosts
		wantUnits []string
		wantAlloc []string
	}{
		{
			name: "proportional to subtotal",
			lines: []LandedCostLine{
				{ItemId: 1, VariantId: 10, Quantity: dec("10"), Subtotal: dec("1000")},
				{ItemId: 2, VariantId: 11, Quantity: dec("5"), Subtotal: dec("3000")},
			},
			costs:     VariableCosts{Freight: dec("200"), Customs: dec("150"), Handling: dec("50")},
			wantAlloc: []string{"100", "300"},
			wantUnits: []string{"110", "660"},
		},
		{
			name: "no variable costs keeps unit cost",
			lines: []LandedCostLine{
				{ItemId: 1, VariantId: 10, Quantity: dec("4"), Subtotal: dec("10")},
			},
			costs:     VariableCosts{},
			wantAlloc: []string{"0"},
			wantUnits: []string{"2.5"},
		},
		{
			name: "zero subtotal absorbs nothing",
			lines: []LandedCostLine{
				{ItemId: 1, VariantId: 10, Quantity: dec("2"), Subtotal: dec("0")},
				{ItemId: 2, VariantId: 11, Quantity: dec("3"), Subtotal: dec("0")},
			},
			costs:     VariableCosts{Freight: dec("90")},
			wantAlloc: []string{"0", "0"},
			wantUnits: []string{"0", "0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AllocateLandedCost(tt.lines, tt.costs)
			require.NoError(t, err)
			require.Len(t, got, len(tt.lines))
			for i := range got {
				assert.Equal(t, tt.lines[i].ItemId, got[i].ItemId)
				requireDecimal(t, tt.wantAlloc[i], got[i].AllocatedCost, "allocated", i)
				requireDecimal(t, tt.wantUnits[i], got[i].LandedUnitCost, "unit", i)
			}
		})
	}
}

func TestAllocateLandedCostRejectsBadInput(t *testing.T) {
	_, err := AllocateLandedCost([]LandedCostLine{{ItemId: 1, Quantity: dec("1"), Subtotal: dec("1")}},
		VariableCosts{Customs: dec("-1")})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "customs_cost", ve.Field)

	_, err = AllocateLandedCost([]LandedCostLine{{ItemId: 1, Quantity: decimal.Zero, Subtotal: dec("1")}}, VariableCosts{})
	require.ErrorIs(t, err, ErrValidation)
}

func genLines() gopter.Gen {
	line := gopter.CombineGens(
		gen.IntRange(1, 1000),
		gen.IntRange(0, 10000000),
	).Map(func(v []interface{}) LandedCostLine {
		qty := decimal.NewFromInt(int64(v[0].(int)))
		return LandedCostLine{Quantity: qty, Subtotal: decimal.New(int64(v[1].(int)), -2)}
	})
	return gen.SliceOfN(5, line).SuchThat(func(ls []LandedCostLine) bool { return len(ls) > 0 })
}

func genCosts() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 5000000),
		gen.IntRange(0, 5000000),
		gen.IntRange(0, 5000000),
	).Map(func(v []interface{}) VariableCosts {
		return VariableCosts{
			Freight:  decimal.New(int64(v[0].(int)), -2),
			Customs:  decimal.New(int64(v[1].(int)), -2),
			Handling: decimal.New(int64(v[2].(int)), -2),
		}
	})
}

func TestAllocateLandedCostProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	epsilon := dec("0.01")

	properties.Property("landed value equals subtotal plus variable costs", prop.ForAll(
		func(lines []LandedCostLine, costs VariableCosts) bool {
			allocs, err := AllocateLandedCost(lines, costs)
			if err != nil {
				return false
			}
			subtotal := decimal.Zero
			landed := decimal.Zero
			for i, a := range allocs {
				subtotal = subtotal.Add(lines[i].Subtotal)
				landed = landed.Add(a.LandedUnitCost.Mul(a.Quantity))
			}
			want := subtotal
			if subtotal.IsPositive() {
				want = want.Add(costs.Total())
			}
			return landed.Sub(want).Abs().LessThanOrEqual(epsilon)
		},
		genLines(), genCosts(),
	))

	properties.Property("no variable costs allocates nothing", prop.ForAll(
		func(lines []LandedCostLine) bool {
			allocs, err := AllocateLandedCost(lines, VariableCosts{})
			if err != nil {
				return false
			}
			for i, a := range allocs {
				if !a.AllocatedCost.IsZero() {
					return false
				}
				if a.LandedUnitCost.Mul(a.Quantity).Sub(lines[i].Subtotal).Abs().GreaterThan(epsilon) {
					return false
				}
			}
			return true
		},
		genLines(),
	))

	properties.Property("shares sum to one when there is a subtotal", prop.ForAll(
		func(lines []LandedCostLine, costs VariableCosts) bool {
			allocs, err := AllocateLandedCost(lines, costs)
			if err != nil {
				return false
			}
			sum := decimal.Zero
			subtotal := decimal.Zero
			for i, a := range allocs {
				sum = sum.Add(a.Share)
				subtotal = subtotal.Add(lines[i].Subtotal)
			}
			if !subtotal.IsPositive() {
				return sum.IsZero()
			}
			return sum.Sub(decimal.NewFromInt(1)).Abs().LessThan(dec("0.000001"))
		},
		genLines(), genCosts(),
	))

	properties.TestingRun(t)
}
