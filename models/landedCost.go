package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// VariableCosts are the order-level charges spread over items at receipt.
type VariableCosts struct {
	Freight  decimal.Decimal `json:"freight_cost"`
	Customs  decimal.Decimal `json:"customs_cost"`
	Handling decimal.Decimal `json:"handling_cost"`
}

func (c VariableCosts) Total() decimal.Decimal {
	return c.Freight.Add(c.Customs).Add(c.Handling)
}

func (c VariableCosts) validate() error {
	names := []string{"freight_cost", "customs_cost", "handling_cost"}
	for i, v := range []decimal.Decimal{c.Freight, c.Customs, c.Handling} {
		if v.IsNegative() {
			return NewValidationError(names[i], "must not be negative")
		}
		if err := checkScale(names[i], v); err != nil {
			return err
		}
	}
	return nil
}

type LandedCostLine struct {
	ItemId    int
	VariantId int
	Quantity  decimal.Decimal
	Subtotal  decimal.Decimal
}

type LandedCostAllocation struct {
	ItemId         int             `json:"item_id"`
	VariantId      int             `json:"variant_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Share          decimal.Decimal `json:"share"`
	AllocatedCost  decimal.Decimal `json:"allocated_cost"`
	LandedUnitCost decimal.Decimal `json:"landed_unit_cost"`
}

// AllocateLandedCost spreads the variable costs over lines in proportion to
// their subtotals. When the items subtotal is zero every share is zero and the
// variable costs are not absorbed.
func AllocateLandedCost(lines []LandedCostLine, costs VariableCosts) ([]LandedCostAllocation, error) {
	if err := costs.validate(); err != nil {
		return nil, err
	}
	itemsSubtotal := decimal.Zero
	for i, line := range lines {
		if !line.Quantity.IsPositive() {
			return nil, NewValidationError(fmt.Sprintf("items[%d].quantity", i), "quantity must be greater than zero")
		}
		if line.Subtotal.IsNegative() {
			return nil, NewValidationError(fmt.Sprintf("items[%d].subtotal", i), "subtotal must not be negative")
		}
		itemsSubtotal = itemsSubtotal.Add(line.Subtotal)
	}

	variable := costs.Total()
	result := make([]LandedCostAllocation, 0, len(lines))
	for _, line := range lines {
		share := decimal.Zero
		if itemsSubtotal.IsPositive() {
			share = line.Subtotal.Div(itemsSubtotal)
		}
		allocated := variable.Mul(share)
		result = append(result, LandedCostAllocation{
			ItemId:         line.ItemId,
			VariantId:      line.VariantId,
			Quantity:       line.Quantity,
			Subtotal:       line.Subtotal,
			Share:          share,
			AllocatedCost:  allocated,
			LandedUnitCost: line.Subtotal.Add(allocated).Div(line.Quantity),
		})
	}
	return result, nil
}
