package cart_test

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-fulfillment/internal/domain/cart"
	"github.com/xenking/storefront-fulfillment/internal/domain/fault"
	"github.com/xenking/storefront-fulfillment/internal/domain/order"
	"github.com/xenking/storefront-fulfillment/internal/domain/pricing"
	"github.com/xenking/storefront-fulfillment/internal/domain/stock"
	"github.com/xenking/storefront-fulfillment/internal/memstore"
)

func newService(s *memstore.Store) *cart.Service {
	return cart.NewService(s, s.Carts(), s, s.Ledger(), memstore.FixturePolicy())
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func trioPicks() []stock.Key {
	return []stock.Key{
		{VariantID: memstore.VariantPolo, SizeID: memstore.SizeM},
		{VariantID: memstore.VariantTeeRed, SizeID: memstore.SizeS},
		{VariantID: memstore.VariantTeeBlue, SizeID: memstore.SizeS},
	}
}

func TestService_AddItem(t *testing.T) {
	t.Run("creates cart and single line", func(t *testing.T) {
		s := memstore.NewFixture()
		svc := newService(s)

		c, err := svc.AddItem(context.Background(), memstore.UserAlice, cart.AddRequest{
			VariantID: memstore.VariantTeeRed, SizeID: memstore.SizeS, Quantity: 2,
		})
		require.NoError(t, err)

		require.Len(t, c.Items, 1)
		assert.Equal(t, "Red", c.Items[0].ColorName)
		assert.Equal(t, "S", c.Items[0].SizeName)
		assert.True(t, c.Total.Equal(dec("20000")))
		assert.Equal(t, 5, s.Available(stock.Key{VariantID: memstore.VariantTeeRed, SizeID: memstore.SizeS}), "cart does not reserve stock")
	})

	t.Run("same variant and size merges", func(t *testing.T) {
		s := memstore.NewFixture()
		svc := newService(s)
		ctx := context.Background()
		req := cart.AddRequest{VariantID: memstore.VariantTeeRed, SizeID: memstore.SizeS, Quantity: 1}

		_, err := svc.AddItem(ctx, memstore.UserAlice, req)
		require.NoError(t, err)
		c, err := svc.AddItem(ctx, memstore.UserAlice, req)
		require.NoError(t, err)

		require.Len(t, c.Items, 1)
		assert.Equal(t, 2, c.Items[0].Quantity)
	})

	t.Run("different size is a separate line", func(t *testing.T) {
		s := memstore.NewFixture()
		svc := newService(s)
		ctx := context.Background()

		_, err := svc.AddItem(ctx, memstore.UserAlice, cart.AddRequest{VariantID: memstore.VariantTeeRed, SizeID: memstore.SizeS, Quantity: 1})
		require.NoError(t, err)
		c, err := svc.AddItem(ctx, memstore.UserAlice, cart.AddRequest{VariantID: memstore.VariantTeeRed, SizeID: memstore.SizeM, Quantity: 1})
		require.NoError(t, err)

		assert.Len(t, c.Items, 2)
	})

	t.Run("bundle with same composition in any order merges", func(t *testing.T) {
		s := memstore.NewFixture()
		svc := newService(s)
		ctx := context.Background()

		picks := trioPicks()
		_, err := svc.AddItem(ctx, memstore.UserAlice, cart.AddRequest{BundleID: memstore.BundleTrio, Picks: picks, Quantity: 1})
		require.NoError(t, err)

		reversed := []stock.Key{picks[2], picks[1], picks[0]}
		c, err := svc.AddItem(ctx, memstore.UserAlice, cart.AddRequest{BundleID: memstore.BundleTrio, Picks: reversed, Quantity: 1})
		require.NoError(t, err)

		require.Len(t, c.Items, 1)
		assert.Equal(t, 2, c.Items[0].Quantity)
		assert.True(t, c.Total.Equal(dec("54000")))
	})

	t.Run("bundle with different composition is a separate line", func(t *testing.T) {
		s := memstore.NewFixture()
		svc := newService(s)
		ctx := context.Background()

		_, err := svc.AddItem(ctx, memstore.UserAlice, cart.AddRequest{BundleID: memstore.BundleTrio, Picks: trioPicks(), Quantity: 1})
		require.NoError(t, err)
		other := trioPicks()
		other[1].SizeID = memstore.SizeM
		c, err := svc.AddItem(ctx, memstore.UserAlice, cart.AddRequest{BundleID: memstore.BundleTrio, Picks: other, Quantity: 1})
		require.NoError(t, err)

		assert.Len(t, c.Items, 2)
	})
}

func TestService_AddItemRejects(t *testing.T) {
	tests := []struct {
		name string
		req  cart.AddRequest
		kind error
	}{
		{"zero quantity", cart.AddRequest{VariantID: memstore.VariantTeeRed, SizeID: memstore.SizeS}, fault.ErrValidation},
		{"neither product nor bundle", cart.AddRequest{Quantity: 1}, fault.ErrValidation},
		{"both product and bundle", cart.AddRequest{VariantID: memstore.VariantTeeRed, BundleID: memstore.BundleTrio, Quantity: 1}, fault.ErrValidation},
		{"missing size", cart.AddRequest{VariantID: memstore.VariantTeeRed, Quantity: 1}, fault.ErrValidation},
		{"unknown variant", cart.AddRequest{VariantID: 999, SizeID: memstore.SizeS, Quantity: 1}, fault.ErrNotFound},
		{"unstocked size", cart.AddRequest{VariantID: memstore.VariantTeeRed, SizeID: memstore.SizeL, Quantity: 1}, fault.ErrNotFound},
		{"insufficient stock", cart.AddRequest{VariantID: memstore.VariantPolo, SizeID: memstore.SizeM, Quantity: 4}, fault.ErrConflict},
		{"bundle missing a pick", cart.AddRequest{BundleID: memstore.BundleTrio, Picks: trioPicks()[:2], Quantity: 1}, fault.ErrValidation},
		{"bundle pick outside family", cart.AddRequest{
			BundleID: memstore.BundleTrio,
			Picks: []stock.Key{
				{VariantID: memstore.VariantTeeRed, SizeID: memstore.SizeS},
				{VariantID: memstore.VariantTeeBlue, SizeID: memstore.SizeS},
				{VariantID: memstore.VariantSocks, SizeID: memstore.SizeS},
			},
			Quantity: 1,
		}, fault.ErrValidation},
		{"bundle pick short on stock", cart.AddRequest{BundleID: memstore.BundleTrio, Picks: trioPicks(), Quantity: 4}, fault.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memstore.NewFixture()
			_, err := newService(s).AddItem(context.Background(), memstore.UserAlice, tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestService_AddItemChecksIncrementOnly(t *testing.T) {
	s := memstore.NewFixture()
	svc := newService(s)
	ctx := context.Background()
	teeRedS := stock.Key{VariantID: memstore.VariantTeeRed, SizeID: memstore.SizeS}
	req := cart.AddRequest{VariantID: memstore.VariantTeeRed, SizeID: memstore.SizeS, Quantity: 3}

	_, err := svc.AddItem(ctx, memstore.UserAlice, req)
	require.NoError(t, err)
	c, err := svc.AddItem(ctx, memstore.UserAlice, req)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 6, c.Items[0].Quantity)
	require.Equal(t, 5, s.Available(teeRedS))

	orders, err := order.NewService(order.Deps{
		Tx:        s,
		Directory: s,
		Carts:     s.Carts(),
		Pricer:    pricing.NewValidator(s, memstore.FixturePolicy()),
		Catalog:   s,
		Ledger:    s.Ledger(),
		Orders:    s.Orders(),
		Outbox:    s.Outbox(),
	})
	require.NoError(t, err)

	_, err = orders.Create(ctx, order.CreateRequest{
		UserID:            memstore.UserAlice,
		CartID:            c.ID,
		ShippingAddressID: memstore.AddressAliceHome,
		BillingAddressID:  memstore.AddressAliceHome,
		Pricing: pricing.Request{
			Currency:       "NGN",
			DeliveryOption: pricing.DeliveryOptionDelivery,
			Items:          []pricing.Item{{VariantID: memstore.VariantTeeRed, SizeID: memstore.SizeS, Quantity: 6, Price: dec("10000")}},
			ShippingCost:   dec("1500"),
			Total:          dec("61500"),
			BaseTotal:      dec("61500"),
		},
	})
	var insufficient *stock.InsufficientError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 6, insufficient.Requested)
	assert.Equal(t, 5, insufficient.Available)
	assert.Equal(t, 5, s.Available(teeRedS))
}

func TestService_AddItemRejectsOversizedIncrement(t *testing.T) {
	s := memstore.NewFixture()
	_, err := newService(s).AddItem(context.Background(), memstore.UserAlice, cart.AddRequest{
		VariantID: memstore.VariantTeeRed, SizeID: memstore.SizeS, Quantity: 6,
	})
	var insufficient *stock.InsufficientError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 6, insufficient.Requested)
}

func TestService_UpdateQuantity(t *testing.T) {
	s := memstore.NewFixture()
	svc := newService(s)
	ctx := context.Background()

	c, err := svc.AddItem(ctx, memstore.UserAlice, cart.AddRequest{VariantID: memstore.VariantPolo, SizeID: memstore.SizeM, Quantity: 1})
	require.NoError(t, err)
	itemID := c.Items[0].ID

	c, err = svc.UpdateQuantity(ctx, memstore.UserAlice, itemID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Items[0].Quantity)
	assert.True(t, c.Total.Equal(dec("45000")))

	_, err = svc.UpdateQuantity(ctx, memstore.UserAlice, itemID, 4)
	assert.True(t, errors.Is(err, fault.ErrConflict))

	_, err = svc.UpdateQuantity(ctx, memstore.UserAlice, itemID, 0)
	assert.True(t, errors.Is(err, fault.ErrValidation))

	_, err = svc.UpdateQuantity(ctx, memstore.UserBob, itemID, 1)
	assert.True(t, errors.Is(err, fault.ErrNotFound), "items are scoped to the owner's cart")
}

func TestService_RemoveAndClear(t *testing.T) {
	s := memstore.NewFixture()
	svc := newService(s)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, memstore.UserAlice, cart.AddRequest{VariantID: memstore.VariantTeeRed, SizeID: memstore.SizeS, Quantity: 1})
	require.NoError(t, err)
	c, err := svc.AddItem(ctx, memstore.UserAlice, cart.AddRequest{VariantID: memstore.VariantCap, SizeID: memstore.SizeM, Quantity: 2})
	require.NoError(t, err)
	require.Len(t, c.Items, 2)

	c, err = svc.RemoveItem(ctx, memstore.UserAlice, c.Items[0].ID)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.True(t, c.Total.Equal(dec("10000")))

	_, err = svc.RemoveItem(ctx, memstore.UserAlice, 12345)
	assert.True(t, errors.Is(err, fault.ErrNotFound))

	require.NoError(t, svc.Clear(ctx, memstore.UserAlice))
	view, err := svc.Get(ctx, memstore.UserAlice, "", "")
	require.NoError(t, err)
	assert.Empty(t, view.Lines)
	assert.True(t, view.Total.IsZero())

	require.NoError(t, svc.Clear(ctx, memstore.UserBob), "clearing a missing cart is a no-op")
}

func TestService_Get(t *testing.T) {
	s := memstore.NewFixture()
	svc := newService(s)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, memstore.UserAlice, cart.AddRequest{VariantID: memstore.VariantPolo, SizeID: memstore.SizeM, Quantity: 2})
	require.NoError(t, err)

	t.Run("home", func(t *testing.T) {
		view, err := svc.Get(ctx, memstore.UserAlice, memstore.HomeCountry, "NGN")
		require.NoError(t, err)
		assert.True(t, view.Subtotal.Equal(dec("30000")))
		assert.True(t, view.Tax.IsZero())
		assert.True(t, view.Total.Equal(dec("30000")))
	})

	t.Run("international in foreign currency", func(t *testing.T) {
		view, err := svc.Get(ctx, memstore.UserAlice, memstore.ForeignCountry, "USD")
		require.NoError(t, err)
		assert.True(t, view.Lines[0].UnitPrice.Equal(dec("15")))
		assert.True(t, view.Subtotal.Equal(dec("30")))
		assert.True(t, view.Tax.Equal(dec("1.5")))
		assert.True(t, view.Total.Equal(dec("31.5")))
	})

	t.Run("no cart yields empty view", func(t *testing.T) {
		view, err := svc.Get(ctx, memstore.UserBob, "", "")
		require.NoError(t, err)
		assert.Zero(t, view.CartID)
		assert.Empty(t, view.Lines)
	})

	t.Run("unsupported currency", func(t *testing.T) {
		_, err := svc.Get(ctx, memstore.UserAlice, "", "EUR")
		assert.True(t, errors.Is(err, fault.ErrValidation))
	})
}
