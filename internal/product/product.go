package product

import (
	"errors"
	"strconv"
	"time"
)

var (
	ErrNotFound       = errors.New("product not found")
	ErrInvalidID      = errors.New("invalid product id")
	ErrInvalidProduct = errors.New("invalid product")
)

// Product is the stock record. Qty is the only field the stock pipeline mutates.
type Product struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	Qty       int64     `json:"qty"`
	CreatedAt time.Time `json:"createdAt"`
}

func CacheKey(id int64) string {
	return "product:" + strconv.FormatInt(id, 10)
}
