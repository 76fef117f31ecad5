package execution

import (
	"context"
	"errors"
	"fmt"

	"index-options-bot/internal/interfaces"
	"index-options-bot/internal/logger"
	"index-options-bot/internal/tradelog"
	"index-options-bot/internal/types"
)

// ErrLegFailed marks a leg order that the broker rejected or that timed out.
var ErrLegFailed = errors.New("leg execution failed")

// Sequencer places position legs in the risk-bounding order: the protective
// hedge is booked before the main short leg is exposed, and on exit the main
// leg is closed before the hedge is lifted. A second-leg failure never leaves
// an ambiguous position: it is either rolled back or flagged.
type Sequencer struct {
	broker interfaces.Broker
}

func New(broker interfaces.Broker) *Sequencer {
	return &Sequencer{broker: broker}
}

// OpenPosition fills the position's legs hedge-first. The position's leg
// structs carry the intended strikes/quantities; fill prices and order IDs
// are written back. On a main-leg failure the hedge is unwound; if the
// unwind also fails the position is returned in HEDGE_ONLY state so it is
// never reported as fully open.
func (s *Sequencer) OpenPosition(ctx context.Context, pos *types.Position) error {
	if pos.HedgeLeg != nil {
		resp, err := s.placeLeg(ctx, pos, pos.HedgeLeg, "HEDGE_ENTRY")
		if err != nil {
			return fmt.Errorf("hedge leg entry: %w", err)
		}
		pos.HedgeLeg.EntryPrice = resp.Price
		pos.HedgeLeg.OrderID = resp.OrderID
	}

	resp, err := s.placeLeg(ctx, pos, &pos.MainLeg, "MAIN_ENTRY")
	if err != nil {
		if pos.HedgeLeg == nil {
			return fmt.Errorf("main leg entry: %w", err)
		}
		// Unwind the already-filled hedge so no dangling long remains.
		unwind := *pos.HedgeLeg
		unwind.Side = types.SideSell
		if _, uerr := s.placeLeg(ctx, pos, &unwind, "HEDGE_UNWIND"); uerr != nil {
			pos.Status = types.StatusHedgeOnly
			logger.Error(ctx, "Main leg failed and hedge unwind failed, manual intervention required",
				"event", "LEG_EXECUTION_FAILURE",
				"position_id", pos.ID,
				"hedge_order_id", pos.HedgeLeg.OrderID,
				"main_error", err.Error(),
				"unwind_error", uerr.Error(),
			)
			return fmt.Errorf("main leg entry (hedge stranded): %w", err)
		}
		logger.Warn(ctx, "Main leg failed, hedge rolled back",
			"event", "ENTRY_ROLLED_BACK",
			"position_id", pos.ID,
		)
		return fmt.Errorf("main leg entry: %w", err)
	}
	pos.MainLeg.EntryPrice = resp.Price
	pos.MainLeg.OrderID = resp.OrderID
	pos.EntryTime = resp.Time
	pos.Status = types.StatusOpen
	if pos.HedgeLeg == nil {
		pos.Status = types.StatusUnhedged
		logger.Warn(ctx, "Position opened without hedge",
			"event", "UNHEDGED_ENTRY",
			"position_id", pos.ID,
			"main_strike", pos.MainLeg.Strike,
		)
	}
	return nil
}

// ClosePosition exits main-first. A hedge-leg failure after the main leg is
// closed leaves the position in HEDGE_ONLY state (a dangling long) and is
// escalated; a main-leg failure leaves the position open and pending.
func (s *Sequencer) ClosePosition(ctx context.Context, pos *types.Position, reason string) error {
	mainClose := pos.MainLeg
	mainClose.Side = types.SideBuy // buy back the short
	resp, err := s.placeLeg(ctx, pos, &mainClose, "MAIN_EXIT")
	if err != nil {
		pos.Status = types.StatusPending
		return fmt.Errorf("main leg exit: %w", err)
	}
	pos.MainLeg.ExitPrice = resp.Price
	pos.ExitTime = resp.Time
	pos.ExitReason = reason

	if pos.HedgeLeg != nil {
		hedgeClose := *pos.HedgeLeg
		hedgeClose.Side = types.SideSell
		hresp, herr := s.placeLeg(ctx, pos, &hedgeClose, "HEDGE_EXIT")
		if herr != nil {
			pos.Status = types.StatusHedgeOnly
			logger.Error(ctx, "Hedge close failed after main exit, manual intervention required",
				"event", "LEG_EXECUTION_FAILURE",
				"position_id", pos.ID,
				"hedge_order_id", pos.HedgeLeg.OrderID,
			)
			return fmt.Errorf("hedge leg exit: %w", herr)
		}
		pos.HedgeLeg.ExitPrice = hresp.Price
	}
	pos.Status = types.StatusClosed
	return nil
}

func (s *Sequencer) placeLeg(ctx context.Context, pos *types.Position, leg *types.Leg, tag string) (types.LegOrderResp, error) {
	req := types.LegOrderReq{
		Underlying: pos.Underlying,
		Strike:     leg.Strike,
		OptionType: leg.OptionType,
		Side:       leg.Side,
		Quantity:   leg.Quantity,
		Tag:        tag,
	}
	resp, err := s.broker.PlaceLeg(ctx, req)
	if err != nil {
		logger.ErrorWithErr(ctx, "Leg order failed", err,
			"position_id", pos.ID,
			"tag", tag,
			"strike", leg.Strike,
			"side", leg.Side,
		)
		return types.LegOrderResp{}, fmt.Errorf("%w: %v", ErrLegFailed, err)
	}
	logger.Info(ctx, "Leg filled",
		"position_id", pos.ID,
		"tag", tag,
		"strike", leg.Strike,
		"option_type", leg.OptionType,
		"side", leg.Side,
		"qty", leg.Quantity,
		"price", resp.Price,
		"order_id", resp.OrderID,
	)
	_ = tradelog.Append(tradelog.Entry{
		PositionID: pos.ID,
		Tag:        tag,
		Strike:     leg.Strike,
		OptionType: string(leg.OptionType),
		Side:       string(leg.Side),
		Qty:        leg.Quantity,
		Price:      resp.Price,
		OrderID:    resp.OrderID,
	})
	return resp, nil
}
