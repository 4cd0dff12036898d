package operation

import "github.com/example/cambio-core/internal/money"

func parseUSD(value string) (money.Money, error) {
	return money.New(value, money.USD)
}

func parseRate(value string) (money.Rate, error) {
	return money.NewRate(value)
}
