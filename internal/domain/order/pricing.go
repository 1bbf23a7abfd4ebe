package order

// Shipping tiers and tax rate, in cents. Orders at or above 10000 ship
// free; 5000 to 9999 pays 500; below 5000 pays 1000. Tax is a flat 10%.
const (
	freeShippingThreshold = 10000
	midShippingThreshold  = 5000
	midShippingFee        = 500
	baseShippingFee       = 1000
)

func ShippingFor(subtotal int64) int64 {
	switch {
	case subtotal >= freeShippingThreshold:
		return 0
	case subtotal >= midShippingThreshold:
		return midShippingFee
	default:
		return baseShippingFee
	}
}

func TaxFor(subtotal int64) int64 {
	return subtotal / 10
}

// ComputePricing derives the pricing block from line-item snapshots and a
// cart-level discount.
func ComputePricing(items []LineItem, discount int64) Pricing {
	var subtotal int64
	for _, it := range items {
		subtotal += it.Subtotal
	}
	p := Pricing{
		Subtotal: subtotal,
		Tax:      TaxFor(subtotal),
		Shipping: ShippingFor(subtotal),
		Discount: discount,
	}
	p.Total = p.Subtotal + p.Tax + p.Shipping - p.Discount
	return p
}
