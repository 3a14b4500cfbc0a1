package tapd

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/lightninglabs/taproot-assets/taprpc"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
)

// RpcSender pays marketplace balances out as Taproot Assets. The tapd
// address encodes the asset and amount; the amount is checked against the
// balance being withdrawn before anything is sent.
type RpcSender struct {
	client   taprpc.TaprootAssetsClient
	decimals int32 // asset units per payment unit, as a power of ten
	logger   *slog.Logger
}

func NewRpcSender(conn grpc.ClientConnInterface, decimals int32, logger *slog.Logger) *RpcSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &RpcSender{
		client:   taprpc.NewTaprootAssetsClient(conn),
		decimals: decimals,
		logger:   logger,
	}
}

func (s *RpcSender) SendAsset(ctx context.Context, assetID string, amount decimal.Decimal, destAddr string) (string, error) {
	units := amount.Shift(s.decimals).IntPart()
	if units <= 0 {
		return "", fmt.Errorf("invalid amount: must be positive, got %s", amount.String())
	}

	decoded, err := s.client.DecodeAddr(ctx, &taprpc.DecodeAddrRequest{Addr: destAddr})
	if err != nil {
		return "", fmt.Errorf("tapd.DecodeAddr failed: %w", err)
	}
	if got := hex.EncodeToString(decoded.AssetId); assetID != "" && got != assetID {
		return "", fmt.Errorf("address is for asset %s, want %s", got, assetID)
	}
	if decoded.Amount != uint64(units) {
		return "", fmt.Errorf("address amount %d does not match withdrawal %d", decoded.Amount, units)
	}

	s.logger.Debug("[Tapd] Sending asset", "asset_id", assetID, "decimal", amount.String(), "units", units)

	resp, err := s.client.SendAsset(ctx, &taprpc.SendAssetRequest{
		TapAddrs: []string{destAddr},
	})
	if err != nil {
		return "", fmt.Errorf("tapd.SendAsset failed: %w", err)
	}

	if resp.Transfer != nil {
		if len(resp.Transfer.AnchorTxHash) > 0 {
			return hex.EncodeToString(resp.Transfer.AnchorTxHash), nil
		}
		// no anchor hash yet
		return fmt.Sprintf("pending-%d", resp.Transfer.TransferTimestamp), nil
	}

	return "unknown-txid", nil
}
