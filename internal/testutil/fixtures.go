package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
)

// RandomID generates a random ID for testing.
func RandomID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// Day returns midnight UTC of an ISO date, e.g. "2017-12-01".
func Day(date string) time.Time {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(err)
	}
	return t
}

// Articles used by the order fixtures.
var (
	Apple    = core.Article{ProductID: "APPLE-1", Brand: "BORNIBUS", CategoryID: "FRUIT", Quantity: 12, Price: 40}
	Banana   = core.Article{ProductID: "BANANA-4", Brand: "BORNIBUS", CategoryID: "FRUIT", Quantity: 4, Price: 12}
	Orange   = core.Article{ProductID: "ORANGE-891", Brand: "BORNIBUS", CategoryID: "FRUIT", Quantity: 9, Price: 102.89}
	Tomato   = core.Article{ProductID: "TOMATO-1", Brand: "BORNIBUS", CategoryID: "VEGETABLE", Quantity: 5, Price: 32.75}
	Carrot   = core.Article{ProductID: "CAROTT-8", Brand: "ARTIGO", CategoryID: "VEGETABLE", Quantity: 82, Price: 910.32}
	Beetroot = core.Article{ProductID: "BEETROOT-150", Brand: "ARTIGO", CategoryID: "ROOT", Quantity: 1, Price: 3.5}
	Potato   = core.Article{ProductID: "POTATO-190", Brand: "ARTIGO", CategoryID: "ROOT", Quantity: 250, Price: 120}
	Ginseng  = core.Article{ProductID: "GINSENG-1", Brand: "EPINOOS", CategoryID: "ROOT", Quantity: 8, Price: 52.24}
)

// OrderFixture creates a test order.
func OrderFixture(clientID, date string, articles ...core.Article) core.Order {
	return core.Order{
		ID:       "ORD-" + RandomID(),
		ClientID: clientID,
		Date:     Day(date),
		Articles: articles,
	}
}

// DefaultOrders returns the purchase history of two clients, C1234 and
// C5678, over the winter 2017-2018.
func DefaultOrders() []core.Order {
	return []core.Order{
		OrderFixture("C1234", "2017-12-01", Apple, Banana),
		OrderFixture("C1234", "2017-12-05", Apple, Banana, Beetroot),
		OrderFixture("C1234", "2018-01-05", Tomato, Banana, Potato),
		OrderFixture("C1234", "2018-02-05", Carrot, Orange, Ginseng),
		OrderFixture("C5678", "2017-12-05", Apple, Orange, Ginseng),
		OrderFixture("C5678", "2017-12-25", Apple, Orange, Ginseng),
		OrderFixture("C5678", "2018-02-17", Apple, Carrot, Ginseng),
	}
}
