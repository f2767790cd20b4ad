package rail

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/escrow-desk/backend/internal/coins"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExchangeClient speaks the custodial exchange's REST API. Signed
// endpoints carry an HMAC-SHA256 signature over the query string plus
// a millisecond timestamp, the exchange's standard scheme.
type ExchangeClient struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	fallback   map[string]string // coin -> static deposit address
	httpClient *http.Client
	log        *zap.Logger
	now        func() time.Time
}

func NewExchangeClient(baseURL, apiKey, apiSecret string, fallbackAddresses map[string]string, log *zap.Logger) *ExchangeClient {
	return &ExchangeClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		fallback:  fallbackAddresses,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
		now: time.Now,
	}
}

func (c *ExchangeClient) Quote(ctx context.Context, coin coins.Coin, usdAmount decimal.Decimal) (Quote, error) {
	// Stable assets trade 1:1 against USD; the exchange has no
	// USDTUSDT ticker to ask.
	if coin.Stable {
		return Quote{CryptoAmount: usdAmount, Rate: decimal.NewFromInt(1)}, nil
	}

	var res struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	q := url.Values{}
	q.Set("symbol", coin.Symbol+"USDT")
	if err := c.public(ctx, "/api/v3/ticker/price", q, &res); err != nil {
		return Quote{}, &RailError{Op: "quote", Err: err}
	}

	rate, err := decimal.NewFromString(res.Price)
	if err != nil || rate.IsZero() {
		return Quote{}, &RailError{Op: "quote", Err: fmt.Errorf("bad price %q for %s", res.Price, coin.Symbol)}
	}

	return Quote{
		CryptoAmount: usdAmount.Div(rate).Round(8),
		Rate:         rate,
	}, nil
}

func (c *ExchangeClient) IssueDepositAddress(ctx context.Context, coin coins.Coin) (DepositAddress, error) {
	var res struct {
		Address string `json:"address"`
		Tag     string `json:"tag"`
		Coin    string `json:"coin"`
	}
	q := url.Values{}
	q.Set("coin", coin.Symbol)
	q.Set("network", coin.Network)
	if err := c.signed(ctx, http.MethodGet, "/sapi/v1/capital/deposit/address", q, &res); err != nil {
		// The custodial account's addresses are stable in practice, so a
		// configured static address keeps deals moving through an API wobble.
		if addr, ok := c.fallback[coin.Symbol]; ok && addr != "" {
			c.log.Warn("deposit address issuance failed, using fallback",
				zap.String("coin", coin.Symbol), zap.Error(err))
			return DepositAddress{Address: addr, Network: coin.Network}, nil
		}
		return DepositAddress{}, &RailError{Op: "deposit_address", Err: err}
	}

	if res.Address == "" {
		return DepositAddress{}, &RailError{Op: "deposit_address", Err: fmt.Errorf("empty address for %s", coin.Symbol)}
	}

	if addr, ok := c.fallback[coin.Symbol]; ok && addr != "" && addr != res.Address {
		c.log.Warn("deposit address differs from configured address",
			zap.String("coin", coin.Symbol),
			zap.String("expected", addr),
			zap.String("got", res.Address))
	}

	return DepositAddress{Address: res.Address, Tag: res.Tag, Network: coin.Network}, nil
}

func (c *ExchangeClient) PollDeposits(ctx context.Context, coin coins.Coin, since time.Time) ([]Deposit, error) {
	var res []struct {
		Amount       string `json:"amount"`
		TxID         string `json:"txId"`
		Status       int    `json:"status"` // 0 pending, 1 credited
		ConfirmTimes string `json:"confirmTimes"` // "n/m"
		InsertTime   int64  `json:"insertTime"`   // ms
	}
	q := url.Values{}
	q.Set("coin", coin.Symbol)
	q.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	if err := c.signed(ctx, http.MethodGet, "/sapi/v1/capital/deposit/hisrec", q, &res); err != nil {
		return nil, &RailError{Op: "poll_deposits", Err: err}
	}

	deposits := make([]Deposit, 0, len(res))
	for _, r := range res {
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			continue
		}
		deposits = append(deposits, Deposit{
			Amount:        amount,
			TxRef:         r.TxID,
			Confirmations: parseConfirmations(r.ConfirmTimes),
			Credited:      r.Status == 1,
			ReceivedAt:    time.UnixMilli(r.InsertTime),
		})
	}
	return deposits, nil
}

func (c *ExchangeClient) Withdraw(ctx context.Context, coin coins.Coin, amount decimal.Decimal, destination, network string) (Withdrawal, error) {
	var res struct {
		ID string `json:"id"`
	}
	q := url.Values{}
	q.Set("coin", coin.Symbol)
	q.Set("address", destination)
	q.Set("amount", amount.String())
	if network != "" {
		q.Set("network", network)
	}
	if err := c.signed(ctx, http.MethodPost, "/sapi/v1/capital/withdraw/apply", q, &res); err != nil {
		return Withdrawal{}, &RailError{Op: "withdraw", Fatal: true, Err: err}
	}
	if res.ID == "" {
		return Withdrawal{}, &RailError{Op: "withdraw", Fatal: true, Err: fmt.Errorf("empty withdrawal id")}
	}
	return Withdrawal{TxRef: res.ID}, nil
}

func (c *ExchangeClient) Balance(ctx context.Context, coin coins.Coin) (Balance, error) {
	var res struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := c.signed(ctx, http.MethodGet, "/api/v3/account", url.Values{}, &res); err != nil {
		return Balance{}, &RailError{Op: "balance", Err: err}
	}

	for _, b := range res.Balances {
		if b.Asset != coin.Symbol {
			continue
		}
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		return Balance{Free: free, Locked: locked}, nil
	}
	return Balance{}, nil
}

// --- transport helpers ---

func (c *ExchangeClient) public(ctx context.Context, path string, q url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, q, "", out)
}

func (c *ExchangeClient) signed(ctx context.Context, method, path string, q url.Values, out any) error {
	q.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	q.Set("recvWindow", "5000")

	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(q.Encode()))
	q.Set("signature", hex.EncodeToString(mac.Sum(nil)))

	return c.do(ctx, method, path, q, c.apiKey, out)
}

func (c *ExchangeClient) do(ctx context.Context, method, path string, q url.Values, apiKey string, out any) error {
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, q.Encode())
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("exchange unavailable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("exchange returned %d: %s", resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode exchange response: %w", err)
		}
	}
	return nil
}

// parseConfirmations extracts n from the exchange's "n/m" format.
func parseConfirmations(s string) int {
	if i := strings.IndexByte(s, '/'); i > 0 {
		s = s[:i]
	}
	n, _ := strconv.Atoi(s)
	return n
}
