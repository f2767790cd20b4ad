package dto

type AuthResponse struct {
	Token string `json:"token"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type BalanceInfo struct {
	Symbol string `json:"symbol"`
	Free   string `json:"free,omitempty"`
	Locked string `json:"locked,omitempty"`
	Error  string `json:"error,omitempty"`
}

type CoinInfo struct {
	Symbol                string `json:"symbol"`
	DisplaySymbol         string `json:"display_symbol"`
	Network               string `json:"network"`
	MinDealUSD            string `json:"min_deal_usd"`
	RequiredConfirmations int    `json:"required_confirmations"`
	Stable                bool   `json:"stable"`
}
