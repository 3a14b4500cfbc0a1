package settlement

import (
	"context"

	"github.com/shopspring/decimal"
)

// AssetSender pays balances out of the engine, for example through tapd.
type AssetSender interface {
	SendAsset(ctx context.Context, assetID string, amount decimal.Decimal, destAddr string) (txID string, err error)
}
