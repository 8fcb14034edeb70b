package memstore

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-fulfillment/internal/domain/catalog"
	"github.com/xenking/storefront-fulfillment/internal/domain/identity"
	"github.com/xenking/storefront-fulfillment/internal/domain/pricing"
	"github.com/xenking/storefront-fulfillment/internal/domain/stock"
)

// Fixture identifiers seeded by NewFixture.
const (
	UserAlice int64 = 1
	UserBob   int64 = 2

	AddressAliceHome   int64 = 10
	AddressAliceAbroad int64 = 11
	AddressBobHome     int64 = 20

	SizeS int64 = 1
	SizeM int64 = 2
	SizeL int64 = 3

	VariantTeeRed  int64 = 100
	VariantTeeBlue int64 = 101
	VariantPolo    int64 = 102
	VariantCap     int64 = 103
	VariantSocks   int64 = 104

	BundleTrio int64 = 500
	BundleFive int64 = 501

	HomeCountry    = "Nigeria"
	ForeignCountry = "Ghana"
)

// NewFixture returns a Store seeded with a small catalog, two users and
// stock for every variant.
func NewFixture() *Store {
	s := New()

	s.AddUser(identity.User{ID: UserAlice, Email: "alice@example.com", Name: "Alice"})
	s.AddUser(identity.User{ID: UserBob, Email: "bob@example.com", Name: "Bob"})
	s.AddAddress(identity.Address{ID: AddressAliceHome, UserID: UserAlice, Line1: "1 Marina", City: "Lagos", Country: HomeCountry})
	s.AddAddress(identity.Address{ID: AddressAliceAbroad, UserID: UserAlice, Line1: "4 Ring Rd", City: "Accra", Country: ForeignCountry})
	s.AddAddress(identity.Address{ID: AddressBobHome, UserID: UserBob, Line1: "9 Allen Ave", City: "Ikeja", Country: HomeCountry})

	s.AddSize(catalog.Size{ID: SizeS, Name: "S"})
	s.AddSize(catalog.Size{ID: SizeM, Name: "M"})
	s.AddSize(catalog.Size{ID: SizeL, Name: "L"})

	price := decimal.RequireFromString
	s.AddVariant(catalog.Variant{ID: VariantTeeRed, ProductID: 1, ProductName: "Classic Tee", ColorName: "Red", Price: price("10000")})
	s.AddVariant(catalog.Variant{ID: VariantTeeBlue, ProductID: 1, ProductName: "Classic Tee", ColorName: "Blue", Price: price("10000")})
	s.AddVariant(catalog.Variant{ID: VariantPolo, ProductID: 2, ProductName: "Polo", ColorName: "Black", Price: price("15000")})
	s.AddVariant(catalog.Variant{ID: VariantCap, ProductID: 3, ProductName: "Cap", ColorName: "White", Price: price("5000")})
	s.AddVariant(catalog.Variant{ID: VariantSocks, ProductID: 9, ProductName: "Socks", ColorName: "Grey", Price: price("2000")})
	s.AddBundle(catalog.Bundle{ID: BundleTrio, Name: "Tee Trio", Kind: "3-in-1", Price: price("27000"), ProductIDs: []int64{1, 2}})
	s.AddBundle(catalog.Bundle{ID: BundleFive, Name: "Tee Five", Kind: "5-in-1", Price: price("40000"), ProductIDs: []int64{1, 2}})

	s.SetStock(stock.Key{VariantID: VariantTeeRed, SizeID: SizeS}, 5)
	s.SetStock(stock.Key{VariantID: VariantTeeRed, SizeID: SizeM}, 5)
	s.SetStock(stock.Key{VariantID: VariantTeeBlue, SizeID: SizeS}, 5)
	s.SetStock(stock.Key{VariantID: VariantPolo, SizeID: SizeM}, 3)
	s.SetStock(stock.Key{VariantID: VariantCap, SizeID: SizeM}, 10)
	s.SetStock(stock.Key{VariantID: VariantSocks, SizeID: SizeS}, 1)
	return s
}

// FixturePolicy is the pricing policy matching NewFixture: NGN at home, USD
// abroad at 0.001 USD per NGN and 5% tax on international orders.
func FixturePolicy() pricing.Policy {
	return pricing.Policy{
		HomeCountry:     HomeCountry,
		HomeCurrency:    "NGN",
		ForeignCurrency: "USD",
		TaxRate:         decimal.RequireFromString("0.05"),
		Rates:           pricing.StaticRates{"USD": decimal.RequireFromString("0.001")},
	}
}
