package dto

type AuthGatewayRequest struct {
	Secret  string `json:"secret"`
	ActorID string `json:"actor_id,omitempty"` // set when the token acts for one actor
}

type CreateDealRequest struct {
	Initiator    string `json:"initiator"`
	Counterparty string `json:"counterparty"`
	Coin         string `json:"coin"`
}

// ActionRequest covers every button-press deal action. The actor is the
// end user who pressed it; value carries the pick where the action has
// one (role, fee vote, privacy vote, close vote).
type ActionRequest struct {
	Actor string `json:"actor"`
	Value string `json:"value,omitempty"`
}

// TextRequest covers the free-text actions: amount, payout address,
// refund address.
type TextRequest struct {
	Actor string `json:"actor"`
	Text  string `json:"text"`
}
