package bank

import "context"

// Settler interface implementation
var _ Settler = (*Static)(nil)

// Static is a fixed-outcome settler for environments without a bank remote.
// TODO: retire once every environment points BANK_API_ADDRESS at the real
// settlement gateway.
type Static struct {
	Settled bool
}

// Settle method of Settler implementation
func (s *Static) Settle(_ context.Context, in *SettleRequest, out *SettleResponse) error {
	out.Settled = s.Settled
	out.Reference = in.ExternalBank + "-" + in.TransactionID

	return nil
}
