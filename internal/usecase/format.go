package usecase

import "fmt"

// FormatPrice prints a price with decimals chosen by its magnitude.
func FormatPrice(price float64) string {
	return fmt.Sprintf("$%.*f", pricePrecision(price), price)
}

func pricePrecision(price float64) int {
	switch {
	case price >= 1000:
		return 2
	case price >= 100:
		return 3
	case price >= 10:
		return 4
	case price >= 1:
		return 5
	case price >= 0.1:
		return 6
	case price >= 0.01:
		return 7
	default:
		return 8
	}
}
