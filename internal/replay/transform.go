package replay

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"orbitalEngine/internal/model"
	"orbitalEngine/internal/orbital"
)

func buildPoolRecord(label string, st orbital.PoolState) model.Pool {
	return model.Pool{
		PoolID:        st.ID.String(),
		Label:         label,
		Assets:        addressStrings(st.Assets),
		Amplification: st.Amplification,
		FeeRate:       st.FeeRate,
		Active:        st.Active,
		Halted:        st.Halted,
		TotalLpSupply: st.TotalLpSupply.Dec(),
		SumReserves:   st.SumReserves.Dec(),
		Reserves:      amountStrings(st.Reserves),
		Fees:          amountStrings(st.Fees),
		Isolated:      addressStrings(st.Isolated),
		CreatedAt:     st.CreatedAt.UTC(),
	}
}

func buildPositionRecords(id orbital.PoolID, positions []orbital.Position) []model.Position {
	out := make([]model.Position, 0, len(positions))
	for _, pos := range positions {
		out = append(out, model.Position{
			PoolID:        id.String(),
			Provider:      pos.Provider.Hex(),
			LpTokens:      pos.LpTokens.Dec(),
			Deposits:      amountStrings(pos.Deposits),
			Radius:        pos.Radius.Dec(),
			PlaneConstant: pos.PlaneConstant.Dec(),
			IsInterior:    pos.IsInterior,
			Active:        pos.Active,
			UpdatedAt:     pos.UpdatedAt.UTC(),
		})
	}
	return out
}

func buildSwapLegs(legs []orbital.SwapLeg) []model.SwapLeg {
	out := make([]model.SwapLeg, 0, len(legs))
	for _, leg := range legs {
		out = append(out, model.SwapLeg{
			AmountIn:   leg.AmountIn.Dec(),
			GrossOut:   leg.GrossOut.Dec(),
			Fee:        leg.Fee.Dec(),
			Regime:     leg.Regime.String(),
			Method:     leg.Method,
			Iterations: leg.Iterations,
			Crossed:    leg.Crossed,
		})
	}
	return out
}

func buildTransitions(transitions []orbital.Transition) []model.DepegTransition {
	if len(transitions) == 0 {
		return nil
	}
	out := make([]model.DepegTransition, 0, len(transitions))
	for _, t := range transitions {
		out = append(out, model.DepegTransition{
			Asset:        t.Asset.Hex(),
			From:         t.From.String(),
			To:           t.To.String(),
			DeviationBps: t.DeviationBps.StringFixed(2),
			Reason:       t.Reason,
		})
	}
	return out
}

func amountStrings(amounts map[common.Address]*uint256.Int) map[string]string {
	out := make(map[string]string, len(amounts))
	for asset, amount := range amounts {
		if amount == nil {
			continue
		}
		out[asset.Hex()] = amount.Dec()
	}
	return out
}

func shareStrings(shares []*uint256.Int) []string {
	out := make([]string, 0, len(shares))
	for _, s := range shares {
		out = append(out, s.Dec())
	}
	return out
}

func addressStrings(addresses []common.Address) []string {
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		out = append(out, a.Hex())
	}
	return out
}
